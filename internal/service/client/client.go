package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

// defaultCallTimeout bounds individual API calls.
const defaultCallTimeout = 10 * time.Second

var (
	// errServerURLRequired is returned when no server URL can be determined.
	errServerURLRequired = errors.New("server URL must be provided")
	// ErrNoActiveSession is returned when the user has no active session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrTooLate is returned when the grace window has already elapsed.
	ErrTooLate = errors.New("grace window already elapsed")
)

// Client is a thin HTTP client for the guardian engine API.
type Client struct {
	// baseURL is the engine's API root, without a trailing slash.
	baseURL string
	// httpClient performs the requests.
	httpClient *http.Client
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a per-call timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// New creates a client for the engine at the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errServerURLRequired
	}

	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultCallTimeout},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Session is the engine's wire representation of an alert session.
type Session struct {
	SessionID        string     `json:"session_id"`
	UserID           string     `json:"user_id"`
	State            string     `json:"state"`
	CreatedAt        time.Time  `json:"created_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	FallbackRequired bool       `json:"fallback_required"`
	ContactCount     int        `json:"contact_count"`
	LocationSamples  int        `json:"location_samples"`
}

// pressResult is the button endpoint's acknowledgement.
type pressResult struct {
	Triggered bool     `json:"triggered"`
	Session   *Session `json:"session"`
}

// PressButton reports one button press. It returns the opened session when
// the press completed the triple-press pattern, nil otherwise.
func (c *Client) PressButton(ctx context.Context, userID string, pressedAt time.Time) (*Session, error) {
	var result pressResult

	err := c.post(ctx, "/triggers/button", map[string]any{
		"user_id":    userID,
		"pressed_at": pressedAt,
	}, &result)
	if err != nil {
		return nil, err
	}

	if !result.Triggered {
		return nil, nil
	}

	return result.Session, nil
}

// TriggerVoice opens a session from a pre-scored voice detection.
func (c *Client) TriggerVoice(ctx context.Context, userID string, confidence float64) (*Session, error) {
	var opened Session

	err := c.post(ctx, "/triggers/voice", map[string]any{
		"user_id":    userID,
		"confidence": confidence,
	}, &opened)
	if err != nil {
		return nil, err
	}

	return &opened, nil
}

// Cancel aborts the user's session during its grace window.
func (c *Client) Cancel(ctx context.Context, userID string) (*Session, error) {
	var cancelled Session

	err := c.post(ctx, "/users/"+userID+"/cancel", nil, &cancelled)
	if err != nil {
		return nil, err
	}

	return &cancelled, nil
}

// Resolve closes the session.
func (c *Client) Resolve(ctx context.Context, sessionID string) (*Session, error) {
	var resolved Session

	err := c.post(ctx, "/sessions/"+sessionID+"/resolve", nil, &resolved)
	if err != nil {
		return nil, err
	}

	return &resolved, nil
}

// Active returns the user's non-terminal session.
func (c *Client) Active(ctx context.Context, userID string) (*Session, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+"/users/"+userID+"/sessions/active", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var active Session
	if err = c.do(req, &active); err != nil {
		return nil, err
	}

	return &active, nil
}

// ReportLocation stores a device position fix for the location feed.
func (c *Client) ReportLocation(ctx context.Context, userID string, sample alert.LocationSample) error {
	return c.post(ctx, "/users/"+userID+"/location", map[string]any{
		"latitude":        sample.Latitude,
		"longitude":       sample.Longitude,
		"accuracy_meters": sample.AccuracyMeters,
		"captured_at":     sample.CapturedAt,
	}, nil)
}

// post sends a JSON request and decodes the response into result when it is
// non-nil.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var reader *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

// do executes the request and maps error statuses to sentinel errors.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call engine: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNoActiveSession
	case resp.StatusCode == http.StatusConflict:
		return ErrTooLate
	case resp.StatusCode >= http.StatusBadRequest:
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)

		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, body.Message)
	}

	if result == nil {
		return nil
	}

	if err = json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// BaseURLFromListenAddress converts a listen address like ":8080" into a
// local base URL for the client binaries.
func BaseURLFromListenAddress(listenAddress string) (string, error) {
	host, port, err := net.SplitHostPort(listenAddress)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listenAddress, err)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return "http://" + net.JoinHostPort(host, port), nil
}
