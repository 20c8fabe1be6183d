package inkwell

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutboxOp is one queued outbound envelope.
type OutboxOp struct {
	ID         string
	EventType  string
	Data       any
	Retries    int
	EnqueuedAt time.Time
}

// Outbox is a caller-side pending-write queue layered over a RealtimeClient.
// The connection manager itself never buffers — sends while not Connected are
// dropped — so callers that cannot afford the loss enqueue here instead. Ops
// are held in FIFO order across disconnects and flushed automatically when
// the connection (re)reaches Connected.
type Outbox struct {
	rt         *RealtimeClient
	log        *slog.Logger
	maxRetries int
	onDrop     func(*OutboxOp, error)
	unsub      func()

	mu    sync.Mutex
	queue []*OutboxOp
}

// NewOutbox creates an outbox over rt. Ops failing maxRetries deliveries
// (default 3) are dropped; onDrop, when non-nil, is told about each drop.
func NewOutbox(rt *RealtimeClient, maxRetries int, onDrop func(*OutboxOp, error)) *Outbox {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	o := &Outbox{
		rt:         rt,
		log:        rt.log,
		maxRetries: maxRetries,
		onDrop:     onDrop,
	}
	o.unsub = rt.OnStateChange(func(s ConnState) {
		if s == StateConnected {
			// Flush off the listener callback: state listeners run
			// synchronously inside the transition.
			go o.Flush(context.Background())
		}
	})
	return o
}

// Enqueue queues an envelope for delivery and returns its op ID. When the
// connection is already up the queue is flushed immediately.
func (o *Outbox) Enqueue(ctx context.Context, eventType string, data any) string {
	op := &OutboxOp{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Data:       data,
		EnqueuedAt: time.Now(),
	}
	o.mu.Lock()
	o.queue = append(o.queue, op)
	o.mu.Unlock()

	if o.rt.State() == StateConnected {
		o.Flush(ctx)
	}
	return op.ID
}

// Flush delivers queued ops in order, stopping at the first failure. Ops that
// exceed their retry budget are dropped and reported via onDrop.
func (o *Outbox) Flush(ctx context.Context) {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		op := o.queue[0]
		o.mu.Unlock()

		err := o.rt.send(ctx, op.EventType, op.Data)
		if err == nil {
			o.pop(op)
			continue
		}
		if errors.Is(err, errNotConnected) {
			// Keep the op; the Connected transition triggers the next flush.
			return
		}
		op.Retries++
		if op.Retries >= o.maxRetries {
			o.pop(op)
			o.log.Warn("dropping outbox op", "id", op.ID, "type", op.EventType, "err", err)
			if o.onDrop != nil {
				o.onDrop(op, err)
			}
			continue
		}
		return
	}
}

// Len returns the number of pending ops.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close detaches the outbox from the connection's state changes. Pending ops
// are kept and can still be flushed manually.
func (o *Outbox) Close() {
	if o.unsub != nil {
		o.unsub()
		o.unsub = nil
	}
}

func (o *Outbox) pop(op *OutboxOp) {
	o.mu.Lock()
	if len(o.queue) > 0 && o.queue[0] == op {
		o.queue = o.queue[1:]
	}
	o.mu.Unlock()
}
