// Package inkwell provides the Go client for the Inkwell novel-writing
// backend: project and chapter CRUD over HTTP plus a realtime connection
// layer that multiplexes typed backend events to subscribers and maintains a
// live view of background agent activity.
//
// Example:
//
//	client := inkwell.NewClient("iw-token-...")
//
//	projects, _ := client.ListProjects(ctx)
//
//	rt := client.Realtime(nil)
//	defer rt.Disconnect()
//	stop := rt.Status().Subscribe(func(s inkwell.ProcessingStatus) {
//		fmt.Printf("%d agents active, queue %d\n", len(s.ActiveAgents), s.QueueLength)
//	})
//	defer stop()
//	rt.Connect(ctx)
package inkwell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "https://api.inkwell.dev"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP request helper for the backend's CRUD surface.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new Inkwell client. The token is attached as a bearer
// token on every request and as connection-establishment data on realtime
// connections.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the auth token for subsequent requests. Realtime clients
// already created keep the token they were dialed with.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Realtime creates a realtime client against this client's base URL. A nil
// config uses defaults; an empty AuthToken inherits the client's token.
func (c *Client) Realtime(cfg *RealtimeConfig) *RealtimeClient {
	rc := RealtimeConfig{}
	if cfg != nil {
		rc = *cfg
	}
	if rc.AuthToken == "" {
		rc.AuthToken = c.token
	}
	if rc.Logger == nil {
		rc.Logger = c.log
	}
	return NewRealtimeClient(c.baseURL, &rc)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode >= 400 {
		c.log.Debug("request failed", "method", method, "path", path,
			"status", resp.StatusCode, "request_id", requestID)
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

// classifyTransportError maps a transport failure onto the typed error
// contract: deadline overruns become TimeoutError, everything else
// NetworkError.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Err: err}
	}
	return &NetworkError{Err: err}
}

// statusError builds a StatusError, decoding the backend's error envelope
// when present.
func statusError(code int, body []byte) *StatusError {
	se := &StatusError{StatusCode: code}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		se.Code = envelope.Error.Code
		se.Message = envelope.Error.Message
	}
	return se
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Health and status
// ============================================================================

// Health checks backend health.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	data, err := c.doRequest(ctx, "GET", "/api/health", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[HealthInfo](data)
}

// GetProcessingStatus fetches a one-shot processing status snapshot over
// HTTP. The realtime StatusAggregator is the live counterpart.
func (c *Client) GetProcessingStatus(ctx context.Context) (*ProcessingStatus, error) {
	data, err := c.doRequest(ctx, "GET", "/api/status/processing", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ProcessingStatus](data)
}

// ============================================================================
// Project API
// ============================================================================

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	data, err := c.doRequest(ctx, "GET", "/api/projects", nil, nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[[]Project](data)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

func (c *Client) CreateProject(ctx context.Context, opts *CreateProjectOptions) (*Project, error) {
	if opts == nil || opts.Title == "" || opts.Author == "" {
		return nil, fmt.Errorf("title and author are required")
	}
	data, err := c.doRequest(ctx, "POST", "/api/projects", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Project](data)
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	data, err := c.doRequest(ctx, "GET", "/api/projects/"+projectID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Project](data)
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/api/projects/"+projectID, nil, nil)
	return err
}

// ============================================================================
// Chapter API
// ============================================================================

func (c *Client) ListChapters(ctx context.Context, projectID string) ([]Chapter, error) {
	data, err := c.doRequest(ctx, "GET", "/api/projects/"+projectID+"/chapters", nil, nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[[]Chapter](data)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

func (c *Client) GetChapter(ctx context.Context, projectID string, number int) (*Chapter, error) {
	data, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/projects/%s/chapters/%d", projectID, number), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Chapter](data)
}

func (c *Client) SaveChapter(ctx context.Context, projectID string, number int, opts *SaveChapterOptions) (*Chapter, error) {
	if opts == nil {
		return nil, fmt.Errorf("options required")
	}
	data, err := c.doRequest(ctx, "PUT", fmt.Sprintf("/api/projects/%s/chapters/%d", projectID, number), opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Chapter](data)
}
