package alerts

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/metrics"
	"github.com/oshokin/guardian-engine/internal/repository/session"
	"github.com/oshokin/guardian-engine/internal/service/location"
	"github.com/oshokin/guardian-engine/internal/service/trigger"
)

// requestTimeout bounds every API request.
const requestTimeout = 15 * time.Second

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Trigger(ctx context.Context, userID string, event alert.TriggerEvent) (*alert.AlertSession, error)
	Cancel(ctx context.Context, userID string) (*alert.AlertSession, error)
	Resolve(ctx context.Context, sessionID string) (*alert.AlertSession, error)
	Active(ctx context.Context, userID string) (*alert.AlertSession, error)
}

// Server exposes the engine over HTTP.
type Server struct {
	// service provides the session lifecycle operations.
	service Service
	// normalizer converts raw presses and detections into trigger events.
	normalizer *trigger.Normalizer
	// positions receives device-reported fixes for the location feed.
	positions *location.Cache
}

// NewServer wires the provided collaborators into an HTTP handler.
func NewServer(service Service, normalizer *trigger.Normalizer, positions *location.Cache) *Server {
	return &Server{
		service:    service,
		normalizer: normalizer,
		positions:  positions,
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(requestTimeout))
	router.Use(requestLogger)

	router.Post("/webhook", s.handleWebhook)
	router.Post("/triggers/button", s.handleButtonPress)
	router.Post("/triggers/voice", s.handleVoiceTrigger)
	router.Post("/sessions/{sessionID}/resolve", s.handleResolve)
	router.Post("/users/{userID}/cancel", s.handleCancel)
	router.Post("/users/{userID}/location", s.handleLocationReport)
	router.Get("/users/{userID}/sessions/active", s.handleActiveSession)
	router.Get("/healthz", s.handleHealth)

	return router
}

// buttonPressRequest is one hardware button press.
type buttonPressRequest struct {
	UserID    string    `json:"user_id"`
	PressedAt time.Time `json:"pressed_at"`
}

// buttonPressResponse reports whether the press completed the pattern.
type buttonPressResponse struct {
	Triggered bool         `json:"triggered"`
	Session   *sessionView `json:"session,omitempty"`
}

// handleButtonPress records one press; the third press inside the window
// opens a session.
func (s *Server) handleButtonPress(w http.ResponseWriter, r *http.Request) {
	var req buttonPressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")

		return
	}

	if req.PressedAt.IsZero() {
		req.PressedAt = time.Now().UTC()
	}

	event, complete := s.normalizer.Press(req.UserID, req.PressedAt)
	if !complete {
		writeJSON(w, http.StatusAccepted, buttonPressResponse{Triggered: false})

		return
	}

	opened, err := s.service.Trigger(r.Context(), req.UserID, event)
	if err != nil && !errors.Is(err, alert.ErrSessionAlreadyActive) {
		writeError(w, http.StatusInternalServerError, "unable to open session")

		return
	}

	view := newSessionView(opened)
	writeJSON(w, http.StatusAccepted, buttonPressResponse{Triggered: true, Session: &view})
}

// voiceTriggerRequest is a pre-scored voice-phrase detection.
type voiceTriggerRequest struct {
	UserID     string    `json:"user_id"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// handleVoiceTrigger opens a session from a voice detection; detections below
// the confidence floor are rejected.
func (s *Server) handleVoiceTrigger(w http.ResponseWriter, r *http.Request) {
	var req voiceTriggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")

		return
	}

	if req.DetectedAt.IsZero() {
		req.DetectedAt = time.Now().UTC()
	}

	event, err := s.normalizer.NormalizeVoice(req.DetectedAt, req.Confidence)
	if err != nil {
		metrics.ObserveTrigger(string(alert.SourceVoicePhrase), "rejected")
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	opened, err := s.service.Trigger(r.Context(), req.UserID, event)
	if err != nil && !errors.Is(err, alert.ErrSessionAlreadyActive) {
		writeError(w, http.StatusInternalServerError, "unable to open session")

		return
	}

	writeJSON(w, http.StatusOK, newSessionView(opened))
}

// handleResolve closes a confirmed or dispatching session.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.service.Resolve(r.Context(), chi.URLParam(r, "sessionID"))

	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, alert.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "session is not resolvable in its current state")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "unable to resolve session")
	default:
		writeJSON(w, http.StatusOK, newSessionView(resolved))
	}
}

// handleCancel aborts the user's session during its grace window.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.service.Cancel(r.Context(), chi.URLParam(r, "userID"))

	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "no active session")
	case errors.Is(err, alert.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "grace window already elapsed")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "unable to cancel session")
	default:
		writeJSON(w, http.StatusOK, newSessionView(cancelled))
	}
}

// handleActiveSession returns the user's non-terminal session.
func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	active, err := s.service.Active(r.Context(), chi.URLParam(r, "userID"))

	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "no active session")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "unable to load session")
	default:
		writeJSON(w, http.StatusOK, newSessionView(active))
	}
}

// locationReportRequest is one device-reported position fix.
type locationReportRequest struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// handleLocationReport stores a device fix for the location feed to sample.
func (s *Server) handleLocationReport(w http.ResponseWriter, r *http.Request) {
	var req locationReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.CapturedAt.IsZero() {
		req.CapturedAt = time.Now().UTC()
	}

	s.positions.Report(chi.URLParam(r, "userID"), alert.LocationSample{
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.AccuracyMeters,
		CapturedAt:     req.CapturedAt,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleHealth serves prometheus metrics when the client asks for them and a
// JSON liveness body otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/openmetrics-text") || strings.Contains(accept, "text/plain") {
		promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
