package inkwell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire protocol
// ============================================================================

// Envelope is the wire format for every realtime message, in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event types spoken by the backend. ping and pong are control messages owned
// by the connection layer; they never reach application subscribers.
const (
	EventProcessingStatus      = "processing-status"
	EventTaskUpdate            = "task-update"
	EventKnowledgeBaseUpdate   = "knowledge-base-update"
	EventSyncStatus            = "sync-status"
	EventAIAgentStatus         = "ai-agent-status"
	EventRealtimeCollaboration = "real-time-collaboration"

	eventPing = "ping"
	eventPong = "pong"
)

var knownEventTypes = map[string]bool{
	EventProcessingStatus:      true,
	EventTaskUpdate:            true,
	EventKnowledgeBaseUpdate:   true,
	EventSyncStatus:            true,
	EventAIAgentStatus:         true,
	EventRealtimeCollaboration: true,
	eventPing:                  true,
	eventPong:                  true,
}

// ============================================================================
// Connection state
// ============================================================================

// ConnState is the connection manager's lifecycle state. Exactly one value is
// held at a time; all changes are observable via OnStateChange.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"

	// StateError is reached when a connection attempt fails. After the
	// reconnection policy is exhausted it is terminal until the next
	// explicit Connect.
	StateError ConnState = "error"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a RealtimeClient. Zero values take defaults.
type RealtimeConfig struct {
	// AuthToken is attached as a ?token= query parameter at dial time.
	// It is never resent mid-connection.
	AuthToken string

	// ReconnectInterval is the base backoff delay, scaled linearly by the
	// attempt count. Default 3s.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts bounds automatic reconnection. Default 5.
	MaxReconnectAttempts int

	// HeartbeatInterval is the ping cadence while connected. Default 30s.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout force-closes the socket when no pong has arrived
	// within the window, driving the normal reconnect path. Default 2x
	// HeartbeatInterval.
	HeartbeatTimeout time.Duration

	Logger *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 3 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 2 * c.HeartbeatInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ============================================================================
// Reconnection policy
// ============================================================================

// shouldRetry reports whether another reconnect attempt is allowed after
// `attempt` attempts have already been made.
func shouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}

// delayFor returns the backoff delay before the given (1-based) attempt.
// Scaling is linear in the attempt count (base * attempt) rather than
// power-of-two, bounding worst-case reconnect latency at base * maxAttempts.
func delayFor(attempt int, baseInterval time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * baseInterval
}

// reconnector tracks the attempt counter across a reconnection sequence. The
// counter increments only when a retry is scheduled and resets when a
// connection reaches Connected or on explicit Disconnect/Connect.
type reconnector struct {
	base        time.Duration
	maxAttempts int
	attempt     int
}

// next consumes one attempt. It returns false once the policy is exhausted.
func (r *reconnector) next() (time.Duration, bool) {
	if !shouldRetry(r.attempt, r.maxAttempts) {
		return 0, false
	}
	r.attempt++
	return delayFor(r.attempt, r.base), true
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// RealtimeClient
// ============================================================================

var errNotConnected = errors.New("not connected")

// RealtimeClient maintains a single live connection to the backend event
// stream, recovers from failures per the reconnection policy, and fans typed
// events out through its EventBus. Connection health is reported via state
// transitions, not errors: Send and Subscribe never fail because the link is
// down.
type RealtimeClient struct {
	baseURL string
	cfg     *RealtimeConfig
	log     *slog.Logger

	bus    *EventBus
	status *StatusAggregator

	mu             sync.Mutex
	state          ConnState
	conn           *websocket.Conn
	cancel         context.CancelFunc // stops the current epoch's read/heartbeat loops
	reconnectTimer *time.Timer
	epoch          int // bumped by Disconnect; invalidates stale timers and loops
	recon          reconnector
	lastPong       time.Time
	intentional    bool

	listenerMu     sync.Mutex
	stateListeners map[int]func(ConnState)
	reconListeners map[int]func(attempt int, delay time.Duration)
	nextListener   int
}

// NewRealtimeClient creates a realtime client for the given backend base URL
// (http(s) scheme; rewritten to ws(s) at dial time). The client starts
// Disconnected; call Connect to establish the link.
func NewRealtimeClient(baseURL string, cfg *RealtimeConfig) *RealtimeClient {
	c := RealtimeConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.defaults()

	rt := &RealtimeClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		cfg:            &c,
		log:            c.Logger,
		state:          StateDisconnected,
		recon:          reconnector{base: c.ReconnectInterval, maxAttempts: c.MaxReconnectAttempts},
		bus:            NewEventBus(c.Logger),
		stateListeners: make(map[int]func(ConnState)),
		reconListeners: make(map[int]func(int, time.Duration)),
	}
	rt.status = NewStatusAggregator(rt.bus, c.Logger)
	return rt
}

// Bus returns the event bus fed by this connection.
func (rt *RealtimeClient) Bus() *EventBus { return rt.bus }

// Status returns the status aggregator fed by this connection.
func (rt *RealtimeClient) Status() *StatusAggregator { return rt.status }

// State returns the current connection state.
func (rt *RealtimeClient) State() ConnState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// OnStateChange registers fn to be called synchronously on every state
// transition, exactly once per transition, in transition order. The returned
// function removes the registration. fn must not call back into the client.
func (rt *RealtimeClient) OnStateChange(fn func(ConnState)) func() {
	rt.listenerMu.Lock()
	defer rt.listenerMu.Unlock()
	id := rt.nextListener
	rt.nextListener++
	rt.stateListeners[id] = fn
	return func() {
		rt.listenerMu.Lock()
		defer rt.listenerMu.Unlock()
		delete(rt.stateListeners, id)
	}
}

// OnReconnecting registers fn to be called whenever a reconnect attempt is
// scheduled, with the attempt number (1-based) and the delay before it fires.
func (rt *RealtimeClient) OnReconnecting(fn func(attempt int, delay time.Duration)) func() {
	rt.listenerMu.Lock()
	defer rt.listenerMu.Unlock()
	id := rt.nextListener
	rt.nextListener++
	rt.reconListeners[id] = fn
	return func() {
		rt.listenerMu.Lock()
		defer rt.listenerMu.Unlock()
		delete(rt.reconListeners, id)
	}
}

// Connect establishes the connection. It is idempotent: while Connecting,
// Connected, or Reconnecting it is a no-op and returns nil. From the terminal
// Error state it starts a fresh attempt sequence.
//
// A dial failure is returned to the caller, but the reconnection policy still
// runs: the client keeps retrying in the background until it connects or
// exhausts its attempts (observable as StateError).
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	switch rt.state {
	case StateConnected, StateConnecting, StateReconnecting:
		rt.mu.Unlock()
		return nil
	}
	rt.intentional = false
	rt.recon.reset()
	epoch := rt.epoch
	rt.mu.Unlock()

	return rt.dial(ctx, epoch)
}

// Disconnect closes the socket if open, cancels any pending reconnect timer
// and the heartbeat, and resets the attempt counter, all before returning. It
// is safe to call from any state; the client always lands in Disconnected and
// no timer from the prior attempt sequence can fire afterwards.
func (rt *RealtimeClient) Disconnect() {
	rt.mu.Lock()
	rt.epoch++
	rt.intentional = true
	if rt.reconnectTimer != nil {
		rt.reconnectTimer.Stop()
		rt.reconnectTimer = nil
	}
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.recon.reset()
	changed := rt.state != StateDisconnected
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if changed {
		rt.notifyState(StateDisconnected)
	}
}

// Send writes an envelope of the given type. While the client is not
// Connected the message is dropped with a diagnostic, never queued; callers
// that cannot afford the loss should layer an Outbox on top. A marshal
// failure of the payload is returned as an error.
func (rt *RealtimeClient) Send(ctx context.Context, eventType string, data any) error {
	err := rt.send(ctx, eventType, data)
	if errors.Is(err, errNotConnected) {
		rt.log.Debug("dropping send while not connected", "type", eventType)
		return nil
	}
	return err
}

func (rt *RealtimeClient) send(ctx context.Context, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	buf, err := json.Marshal(Envelope{Type: eventType, Data: raw, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	rt.mu.Lock()
	conn := rt.conn
	connected := rt.state == StateConnected
	rt.mu.Unlock()
	if !connected || conn == nil {
		return errNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, buf)
}

// ----------------------------------------------------------------------------
// Connection lifecycle
// ----------------------------------------------------------------------------

func (rt *RealtimeClient) dial(ctx context.Context, epoch int) error {
	rt.setState(epoch, StateConnecting)

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL(rt.baseURL, rt.cfg.AuthToken), nil)
	cancelDial()
	if err != nil {
		rt.log.Warn("realtime dial failed", "err", err)
		rt.setState(epoch, StateError)
		rt.scheduleReconnect(epoch)
		return fmt.Errorf("websocket dial: %w", err)
	}

	rt.mu.Lock()
	if epoch != rt.epoch {
		// Disconnect raced the dial; this socket must not survive it.
		rt.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	connCtx, cancelConn := context.WithCancel(context.Background())
	rt.conn = conn
	rt.cancel = cancelConn
	rt.lastPong = time.Now()
	rt.recon.reset()
	rt.mu.Unlock()

	rt.setState(epoch, StateConnected)
	rt.log.Info("realtime connected", "url", rt.baseURL)

	go rt.readLoop(connCtx, conn, epoch)
	go rt.heartbeatLoop(connCtx, conn, epoch)
	return nil
}

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn, epoch int) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.handleClose(epoch, err)
			return
		}
		rt.handleMessage(data)
	}
}

// handleMessage decodes one inbound frame. Malformed frames are logged and
// dropped; pong is consumed here and never dispatched.
func (rt *RealtimeClient) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		rt.log.Warn("dropping malformed realtime message", "err", err)
		return
	}
	if env.Type == eventPong {
		rt.mu.Lock()
		rt.lastPong = time.Now()
		rt.mu.Unlock()
		return
	}
	rt.bus.Dispatch(env)
}

// handleClose runs when the read loop ends. A normal closure lands in
// Disconnected with no reconnection; any other close code or transport error
// evaluates the reconnection policy.
func (rt *RealtimeClient) handleClose(epoch int, err error) {
	rt.mu.Lock()
	if epoch != rt.epoch {
		// Disconnect already tore this epoch down.
		rt.mu.Unlock()
		return
	}
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	rt.conn = nil
	rt.mu.Unlock()

	code := websocket.CloseStatus(err)
	rt.setState(epoch, StateDisconnected)
	if code == websocket.StatusNormalClosure {
		rt.log.Info("realtime connection closed")
		return
	}
	rt.log.Warn("realtime connection lost", "code", int(code), "err", err)
	rt.scheduleReconnect(epoch)
}

// scheduleReconnect evaluates the policy and arms the retry timer. When the
// policy is exhausted the client settles in terminal StateError.
func (rt *RealtimeClient) scheduleReconnect(epoch int) {
	rt.mu.Lock()
	if epoch != rt.epoch || rt.intentional {
		rt.mu.Unlock()
		return
	}
	delay, ok := rt.recon.next()
	if !ok {
		rt.mu.Unlock()
		rt.log.Error("reconnect attempts exhausted", "maxAttempts", rt.cfg.MaxReconnectAttempts)
		rt.setState(epoch, StateError)
		return
	}
	attempt := rt.recon.attempt
	rt.mu.Unlock()

	rt.setState(epoch, StateReconnecting)
	rt.notifyReconnecting(attempt, delay)
	rt.log.Info("reconnecting", "attempt", attempt, "delay", delay)

	rt.mu.Lock()
	if epoch != rt.epoch {
		rt.mu.Unlock()
		return
	}
	rt.reconnectTimer = time.AfterFunc(delay, func() {
		rt.mu.Lock()
		stale := epoch != rt.epoch
		rt.reconnectTimer = nil
		rt.mu.Unlock()
		if stale {
			return
		}
		rt.dial(context.Background(), epoch)
	})
	rt.mu.Unlock()
}

// heartbeatLoop sends a ping envelope every HeartbeatInterval and
// force-closes the socket when no pong has arrived within HeartbeatTimeout,
// which drives the abnormal-close reconnect path.
func (rt *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn, epoch int) {
	ticker := time.NewTicker(rt.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.mu.Lock()
			stale := epoch == rt.epoch && time.Since(rt.lastPong) > rt.cfg.HeartbeatTimeout
			rt.mu.Unlock()
			if stale {
				rt.log.Warn("heartbeat timed out, forcing reconnect")
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
			if err := rt.send(ctx, eventPing, nil); err != nil {
				// The read loop observes the underlying failure.
				return
			}
		}
	}
}

// ----------------------------------------------------------------------------
// State transitions
// ----------------------------------------------------------------------------

// setState applies a transition unless the epoch went stale or the state is
// unchanged, then notifies listeners synchronously.
func (rt *RealtimeClient) setState(epoch int, s ConnState) {
	rt.mu.Lock()
	if epoch != rt.epoch || rt.state == s {
		rt.mu.Unlock()
		return
	}
	rt.state = s
	rt.mu.Unlock()
	rt.notifyState(s)
}

func (rt *RealtimeClient) notifyState(s ConnState) {
	rt.listenerMu.Lock()
	fns := make([]func(ConnState), 0, len(rt.stateListeners))
	for _, fn := range rt.stateListeners {
		fns = append(fns, fn)
	}
	rt.listenerMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (rt *RealtimeClient) notifyReconnecting(attempt int, delay time.Duration) {
	rt.listenerMu.Lock()
	fns := make([]func(int, time.Duration), 0, len(rt.reconListeners))
	for _, fn := range rt.reconListeners {
		fns = append(fns, fn)
	}
	rt.listenerMu.Unlock()
	for _, fn := range fns {
		fn(attempt, delay)
	}
}

// wsURL rewrites the HTTP base URL to the websocket endpoint, attaching the
// auth token as a query parameter.
func wsURL(baseURL, token string) string {
	u := strings.Replace(baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u += "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}
