package alerts

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorCode int    `json:"error_code"`
}

// sessionView is the wire representation of an alert session.
// Contacts and location history are summarized, never dumped raw: phone
// numbers and coordinates stay inside the engine.
type sessionView struct {
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

// newSessionView converts a domain session to its wire shape.
func newSessionView(s *alert.AlertSession) sessionView {
	view := sessionView{
		SessionID:        s.SessionID,
		UserID:           s.UserID,
		State:            string(s.State),
		CreatedAt:        s.CreatedAt,
		FallbackRequired: s.FallbackRequired,
		ContactCount:     len(s.ContactsSnapshot),
		LocationSamples:  len(s.LocationHistory),
	}

	if !s.ConfirmedAt.IsZero() {
		confirmedAt := s.ConfirmedAt
		view.ConfirmedAt = &confirmedAt
	}

	if !s.ResolvedAt.IsZero() {
		resolvedAt := s.ResolvedAt
		view.ResolvedAt = &resolvedAt
	}

	return view
}

// writeJSON encodes the payload with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError encodes a uniform error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{
		Status:    "error",
		Message:   message,
		ErrorCode: status,
	})
}

// decodeJSON decodes a strict request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	return decoder.Decode(dst)
}
