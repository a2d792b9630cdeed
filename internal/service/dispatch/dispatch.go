package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
)

// Caller invokes the external telephony/dispatch-call service.
// The engine hands over the session and its last known position; call state
// is managed entirely by the external service.
type Caller interface {
	Call(ctx context.Context, sessionID string, last *alert.LocationSample) error
}

// defaultCallTimeout bounds one dispatch request.
const defaultCallTimeout = 10 * time.Second

// errDispatchRejected is returned when the dispatch service answers non-2xx.
var errDispatchRejected = errors.New("dispatch service rejected the call")

// callRequest is the JSON body sent to the dispatch service.
type callRequest struct {
	// SessionID identifies the emergency session.
	SessionID string `json:"session_id"`
	// LastLocation is the freshest known position, absent when none exists.
	LastLocation *locationPayload `json:"last_location,omitempty"`
}

// locationPayload is the wire form of a position fix.
type locationPayload struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// HTTPCaller posts dispatch requests to a configured endpoint.
type HTTPCaller struct {
	// url is the dispatch service endpoint.
	url string
	// client is the underlying HTTP client.
	client *http.Client
}

// Option configures the HTTP caller.
type Option func(*HTTPCaller)

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPCaller) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// NewHTTPCaller creates a caller posting to the given URL.
func NewHTTPCaller(url string, opts ...Option) *HTTPCaller {
	caller := &HTTPCaller{
		url:    url,
		client: &http.Client{Timeout: defaultCallTimeout},
	}

	for _, opt := range opts {
		opt(caller)
	}

	return caller
}

// Call posts the dispatch request and reports non-2xx answers as errors.
func (c *HTTPCaller) Call(ctx context.Context, sessionID string, last *alert.LocationSample) error {
	request := callRequest{SessionID: sessionID}

	if last != nil {
		request.LastLocation = &locationPayload{
			Latitude:       last.Latitude,
			Longitude:      last.Longitude,
			AccuracyMeters: last.AccuracyMeters,
			CapturedAt:     last.CapturedAt,
		}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call dispatch service: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d", errDispatchRejected, resp.StatusCode)
	}

	return nil
}

// LogCaller is a development stand-in for the dispatch service.
type LogCaller struct{}

// Call records the would-be dispatch call in the log.
func (LogCaller) Call(ctx context.Context, sessionID string, last *alert.LocationSample) error {
	kvs := []any{"session_id", sessionID}
	if last != nil {
		kvs = append(kvs, "latitude", last.Latitude, "longitude", last.Longitude)
	}

	logger.InfoKV(ctx, "Dispatch call requested (log caller)", kvs...)

	return nil
}
