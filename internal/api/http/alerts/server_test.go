package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/repository/session"
	"github.com/oshokin/guardian-engine/internal/service/location"
	"github.com/oshokin/guardian-engine/internal/service/trigger"
)

// stubService scripts the engine operations the transport calls.
type stubService struct {
	triggerFn func(ctx context.Context, userID string, event alert.TriggerEvent) (*alert.AlertSession, error)
	cancelFn  func(ctx context.Context, userID string) (*alert.AlertSession, error)
	resolveFn func(ctx context.Context, sessionID string) (*alert.AlertSession, error)
	activeFn  func(ctx context.Context, userID string) (*alert.AlertSession, error)
}

func (s *stubService) Trigger(
	ctx context.Context,
	userID string,
	event alert.TriggerEvent,
) (*alert.AlertSession, error) {
	return s.triggerFn(ctx, userID, event)
}

func (s *stubService) Cancel(ctx context.Context, userID string) (*alert.AlertSession, error) {
	return s.cancelFn(ctx, userID)
}

func (s *stubService) Resolve(ctx context.Context, sessionID string) (*alert.AlertSession, error) {
	return s.resolveFn(ctx, sessionID)
}

func (s *stubService) Active(ctx context.Context, userID string) (*alert.AlertSession, error) {
	return s.activeFn(ctx, userID)
}

func sampleSession(userID string) *alert.AlertSession {
	return &alert.AlertSession{
		SessionID: "sess-1",
		UserID:    userID,
		State:     alert.StateDispatching,
		CreatedAt: time.Now().UTC(),
	}
}

func newTestServer(service Service) (*Server, *location.Cache) {
	positions := location.NewCache(0)
	normalizer := trigger.NewNormalizer(1500*time.Millisecond, 0.6)

	return NewServer(service, normalizer, positions), positions
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	return recorder
}

func TestWebhookOpensSessionOnStrongDetection(t *testing.T) {
	t.Parallel()

	service := &stubService{
		triggerFn: func(_ context.Context, userID string, event alert.TriggerEvent) (*alert.AlertSession, error) {
			require.Equal(t, "user-1", userID)
			require.Equal(t, alert.SourceVoicePhrase, event.Source)
			require.InDelta(t, 0.6, event.Confidence, 1e-9)

			return sampleSession(userID), nil
		},
	}
	server, _ := newTestServer(service)

	// Two keywords put the confidence exactly at the floor.
	payload := map[string]any{
		"id":         "mem-1",
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"transcript": "please help me, I am in danger",
		"structured": map[string]any{
			"category":     "safety",
			"action_items": []string{"call back"},
		},
		"transcript_segments": []map[string]any{{"text": "please help"}, {"text": "in danger"}},
	}

	recorder := doRequest(t, server.Router(), http.MethodPost, "/webhook?uid=user-1", payload)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response struct {
		Status             string `json:"status"`
		MemoryID           string `json:"memory_id"`
		EmergencyDetected  bool   `json:"emergency_detected"`
		SessionID          string `json:"session_id"`
		AdditionalMetadata struct {
			Category      string   `json:"category"`
			ActionItems   []string `json:"action_items"`
			TotalSegments int      `json:"total_segments"`
		} `json:"additional_metadata"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	require.Equal(t, "success", response.Status)
	require.Equal(t, "mem-1", response.MemoryID)
	require.True(t, response.EmergencyDetected)
	require.Equal(t, "sess-1", response.SessionID)
	require.Equal(t, "safety", response.AdditionalMetadata.Category)
	require.Equal(t, []string{"call back"}, response.AdditionalMetadata.ActionItems)
	require.Equal(t, 2, response.AdditionalMetadata.TotalSegments)
}

func TestWebhookSingleKeywordDetectedButBelowFloor(t *testing.T) {
	t.Parallel()

	service := &stubService{
		triggerFn: func(context.Context, string, alert.TriggerEvent) (*alert.AlertSession, error) {
			t.Fatal("a below-floor detection must not open a session")

			return nil, nil
		},
	}
	server, _ := newTestServer(service)

	payload := map[string]any{
		"id":         "mem-2",
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"transcript": "I am scared of spiders",
	}

	recorder := doRequest(t, server.Router(), http.MethodPost, "/webhook?uid=user-1", payload)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response webhookResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.True(t, response.EmergencyDetected)
	require.Empty(t, response.SessionID)
}

func TestWebhookNoKeywords(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&stubService{})

	payload := map[string]any{
		"id":         "mem-3",
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"transcript": "lovely weather today",
	}

	recorder := doRequest(t, server.Router(), http.MethodPost, "/webhook", payload)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response webhookResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.False(t, response.EmergencyDetected)
}

func TestWebhookValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{
			name:    "missing transcript",
			payload: map[string]any{"id": "m", "created_at": "2026-08-30T10:00:00Z"},
		},
		{
			name:    "missing created_at",
			payload: map[string]any{"id": "m", "transcript": "help"},
		},
		{
			name: "overlong transcript",
			payload: map[string]any{
				"id":         "m",
				"created_at": "2026-08-30T10:00:00Z",
				"transcript": strings.Repeat("a", trigger.MaxTranscriptLength+1),
			},
		},
		{
			name:    "unparseable created_at",
			payload: map[string]any{"id": "m", "created_at": "yesterday", "transcript": "help"},
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server, _ := newTestServer(&stubService{})
			recorder := doRequest(t, server.Router(), http.MethodPost, "/webhook", tc.payload)
			require.Equal(t, http.StatusBadRequest, recorder.Code)
		})
	}
}

func TestButtonPressTriggersOnThird(t *testing.T) {
	t.Parallel()

	service := &stubService{
		triggerFn: func(_ context.Context, userID string, event alert.TriggerEvent) (*alert.AlertSession, error) {
			require.Equal(t, alert.SourceButtonTriple, event.Source)

			return sampleSession(userID), nil
		},
	}
	server, _ := newTestServer(service)
	router := server.Router()

	base := time.Now().UTC()

	for press := 0; press < 3; press++ {
		recorder := doRequest(t, router, http.MethodPost, "/triggers/button", map[string]any{
			"user_id":    "user-1",
			"pressed_at": base.Add(time.Duration(press) * 200 * time.Millisecond),
		})
		require.Equal(t, http.StatusAccepted, recorder.Code)

		var response buttonPressResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

		if press < 2 {
			require.False(t, response.Triggered, "press %d", press+1)
			require.Nil(t, response.Session)
		} else {
			require.True(t, response.Triggered)
			require.NotNil(t, response.Session)
			require.Equal(t, "sess-1", response.Session.SessionID)
		}
	}
}

func TestVoiceTriggerConfidenceFloor(t *testing.T) {
	t.Parallel()

	service := &stubService{
		triggerFn: func(_ context.Context, userID string, _ alert.TriggerEvent) (*alert.AlertSession, error) {
			return sampleSession(userID), nil
		},
	}
	server, _ := newTestServer(service)
	router := server.Router()

	low := doRequest(t, router, http.MethodPost, "/triggers/voice", map[string]any{
		"user_id":    "user-1",
		"confidence": 0.3,
	})
	require.Equal(t, http.StatusBadRequest, low.Code)

	ok := doRequest(t, router, http.MethodPost, "/triggers/voice", map[string]any{
		"user_id":    "user-1",
		"confidence": 0.9,
	})
	require.Equal(t, http.StatusOK, ok.Code)

	var view sessionView
	require.NoError(t, json.Unmarshal(ok.Body.Bytes(), &view))
	require.Equal(t, "sess-1", view.SessionID)
	require.Equal(t, string(alert.StateDispatching), view.State)
}

func TestResolveAndCancelErrorMapping(t *testing.T) {
	t.Parallel()

	service := &stubService{
		resolveFn: func(context.Context, string) (*alert.AlertSession, error) {
			return nil, session.ErrNotFound
		},
		cancelFn: func(context.Context, string) (*alert.AlertSession, error) {
			return nil, fmt.Errorf("cancel: %w", alert.ErrInvalidStateTransition)
		},
	}
	server, _ := newTestServer(service)
	router := server.Router()

	resolve := doRequest(t, router, http.MethodPost, "/sessions/missing/resolve", nil)
	require.Equal(t, http.StatusNotFound, resolve.Code)

	cancel := doRequest(t, router, http.MethodPost, "/users/user-1/cancel", nil)
	require.Equal(t, http.StatusConflict, cancel.Code)
}

func TestActiveSession(t *testing.T) {
	t.Parallel()

	service := &stubService{
		activeFn: func(_ context.Context, userID string) (*alert.AlertSession, error) {
			if userID != "user-1" {
				return nil, session.ErrNotFound
			}

			return sampleSession(userID), nil
		},
	}
	server, _ := newTestServer(service)
	router := server.Router()

	found := doRequest(t, router, http.MethodGet, "/users/user-1/sessions/active", nil)
	require.Equal(t, http.StatusOK, found.Code)

	missing := doRequest(t, router, http.MethodGet, "/users/user-2/sessions/active", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
}

func TestLocationReportFeedsCache(t *testing.T) {
	t.Parallel()

	server, positions := newTestServer(&stubService{})

	recorder := doRequest(t, server.Router(), http.MethodPost, "/users/user-1/location", map[string]any{
		"latitude":        40.71,
		"longitude":       -74.0,
		"accuracy_meters": 12.5,
		"captured_at":     time.Now().UTC(),
	})
	require.Equal(t, http.StatusNoContent, recorder.Code)

	sample, err := positions.Sample(context.Background(), "user-1")
	require.NoError(t, err)
	require.InDelta(t, 40.71, sample.Latitude, 1e-9)
}

func TestHealthEndpointContentNegotiation(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&stubService{})
	router := server.Router()

	jsonReq := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	jsonRec := httptest.NewRecorder()
	router.ServeHTTP(jsonRec, jsonReq)
	require.Equal(t, http.StatusOK, jsonRec.Code)
	require.Contains(t, jsonRec.Header().Get("Content-Type"), "application/json")

	promReq := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	promReq.Header.Set("Accept", "text/plain")
	promRec := httptest.NewRecorder()
	router.ServeHTTP(promRec, promReq)
	require.Equal(t, http.StatusOK, promRec.Code)
	require.Contains(t, promRec.Body.String(), "guardian_active_sessions")
}
