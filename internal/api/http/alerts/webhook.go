package alerts

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
	"github.com/oshokin/guardian-engine/internal/metrics"
	"github.com/oshokin/guardian-engine/internal/service/trigger"
)

// timestampLayouts are the accepted created_at formats, most specific first.
//
//nolint:gochecknoglobals // Immutable layout table.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// webhookPayload is the memory-created event posted by the wearable platform.
// Pointer fields distinguish an absent field from an empty value; unknown
// fields are tolerated because the platform adds new ones without notice.
type webhookPayload struct {
	ID         string  `json:"id"`
	CreatedAt  *string `json:"created_at"`
	Transcript *string `json:"transcript"`
	Structured struct {
		Category    string   `json:"category"`
		ActionItems []string `json:"action_items"`
	} `json:"structured"`
	TranscriptSegments []json.RawMessage `json:"transcript_segments"`
}

// webhookMetadata is the additional_metadata block of the webhook response.
type webhookMetadata struct {
	Category      string   `json:"category"`
	ActionItems   []string `json:"action_items"`
	TotalSegments int      `json:"total_segments"`
}

// webhookResponse is the webhook acknowledgement body.
type webhookResponse struct {
	Status             string          `json:"status"`
	MemoryID           string          `json:"memory_id"`
	EmergencyDetected  bool            `json:"emergency_detected"`
	AdditionalMetadata webhookMetadata `json:"additional_metadata"`
	SessionID          string          `json:"session_id,omitempty"`
}

// handleWebhook processes a memory-created event: it scans the transcript for
// distress keywords and, when the caller is identified by the uid query
// parameter, turns a detection into a voice trigger.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")

		return
	}
	defer r.Body.Close()

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")

		return
	}

	createdAt, err := validateWebhookPayload(&payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	response := webhookResponse{
		Status:   "success",
		MemoryID: payload.ID,
		AdditionalMetadata: webhookMetadata{
			Category:      payload.Structured.Category,
			ActionItems:   payload.Structured.ActionItems,
			TotalSegments: len(payload.TranscriptSegments),
		},
	}

	if response.AdditionalMetadata.ActionItems == nil {
		response.AdditionalMetadata.ActionItems = []string{}
	}

	detection, detected := trigger.DetectEmergency(*payload.Transcript)
	if !detected {
		writeJSON(w, http.StatusOK, response)

		return
	}

	response.EmergencyDetected = true

	logger.WarnKV(r.Context(), "Emergency detected in transcript",
		"memory_id", payload.ID,
		"confidence", detection.Confidence,
		"keywords", detection.Keywords,
	)

	userID := r.URL.Query().Get("uid")
	if userID == "" {
		// Detection without an identified user is reported but cannot open
		// a session.
		logger.WarnKV(r.Context(), "Webhook detection without uid, no session opened",
			"memory_id", payload.ID)
		writeJSON(w, http.StatusOK, response)

		return
	}

	event, err := s.normalizer.NormalizeVoice(createdAt, detection.Confidence)
	if err != nil {
		metrics.ObserveTrigger(string(alert.SourceVoicePhrase), "rejected")
		writeJSON(w, http.StatusOK, response)

		return
	}

	opened, err := s.service.Trigger(r.Context(), userID, event)
	if err != nil && !errors.Is(err, alert.ErrSessionAlreadyActive) {
		writeError(w, http.StatusInternalServerError, "unable to open session")

		return
	}

	response.SessionID = opened.SessionID
	writeJSON(w, http.StatusOK, response)
}

// validateWebhookPayload enforces required fields, the transcript length cap
// and a parseable timestamp.
func validateWebhookPayload(payload *webhookPayload) (time.Time, error) {
	if payload.Transcript == nil || payload.CreatedAt == nil {
		return time.Time{}, errors.New("transcript and created_at are required")
	}

	if len(*payload.Transcript) > trigger.MaxTranscriptLength {
		return time.Time{}, errors.New("transcript exceeds maximum length")
	}

	for _, layout := range timestampLayouts {
		if createdAt, err := time.Parse(layout, *payload.CreatedAt); err == nil {
			return createdAt, nil
		}
	}

	return time.Time{}, errors.New("created_at is not a valid timestamp")
}
