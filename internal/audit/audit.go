package audit

import (
	"context"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
)

// Kind classifies an audit record.
type Kind string

const (
	// KindTriggerAccepted records a normalized trigger entering the state machine.
	KindTriggerAccepted Kind = "trigger_accepted"
	// KindTriggerRejected records a malformed or low-confidence input.
	KindTriggerRejected Kind = "trigger_rejected"
	// KindTriggerDuplicate records a trigger arriving during an active session.
	KindTriggerDuplicate Kind = "trigger_duplicate"
	// KindStateTransition records a session state change.
	KindStateTransition Kind = "state_transition"
	// KindNotificationOutcome records a delivery attempt outcome.
	KindNotificationOutcome Kind = "notification_outcome"
	// KindLocationGap records a sampling tick that produced no fix.
	KindLocationGap Kind = "location_gap"
	// KindFallbackRequired records the fallback dispatch flag being set.
	KindFallbackRequired Kind = "fallback_required"
	// KindDispatchCalled records an invocation of the dispatch-call service.
	KindDispatchCalled Kind = "dispatch_called"
)

// Record is one immutable audit entry. Every state transition and
// notification outcome produces one for later review.
type Record struct {
	// RecordedAt is when the entry was produced.
	RecordedAt time.Time `json:"recorded_at"`
	// Kind classifies the entry.
	Kind Kind `json:"kind"`
	// UserID is the affected user, when known.
	UserID string `json:"user_id,omitempty"`
	// SessionID is the affected session, when one exists.
	SessionID string `json:"session_id,omitempty"`
	// State is the session state after the recorded event, when relevant.
	State alert.SessionState `json:"state,omitempty"`
	// ContactID is the affected contact for notification outcomes.
	ContactID string `json:"contact_id,omitempty"`
	// Channel is the delivery route for notification outcomes.
	Channel alert.Channel `json:"channel,omitempty"`
	// Status is the attempt status for notification outcomes.
	Status alert.AttemptStatus `json:"status,omitempty"`
	// Detail is a short free-form explanation.
	Detail string `json:"detail,omitempty"`
}

// Sink receives immutable audit records. Implementations must tolerate being
// called from multiple goroutines; a sink failure never propagates into the
// alert flow.
type Sink interface {
	Emit(ctx context.Context, record Record)
}

// LogSink writes audit records to the structured log.
// It is the default sink when no kafka brokers are configured.
type LogSink struct{}

// NewLogSink creates a log-backed audit sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Emit writes the record as a structured log entry.
func (s *LogSink) Emit(ctx context.Context, record Record) {
	logger.InfoKV(ctx, "Audit record",
		"kind", string(record.Kind),
		"user_id", record.UserID,
		"session_id", record.SessionID,
		"state", string(record.State),
		"contact_id", record.ContactID,
		"channel", string(record.Channel),
		"status", string(record.Status),
		"detail", record.Detail,
	)
}
