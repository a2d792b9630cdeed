package session

import (
	"context"
	"errors"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

// Store defines persistence operations for alert sessions.
//
// All mutations are append-only at the field level (new location samples,
// evolving notification attempts) except the top-level state, which only
// moves forward through the defined transitions.
type Store interface {
	// CreateIfAbsent atomically persists the session unless the user already
	// has a non-terminal one. In that case it returns the existing session
	// together with alert.ErrSessionAlreadyActive.
	CreateIfAbsent(ctx context.Context, s *alert.AlertSession) (*alert.AlertSession, error)

	// Get returns the session by ID, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*alert.AlertSession, error)

	// ActiveSessionFor returns the user's non-terminal session, or ErrNotFound.
	ActiveSessionFor(ctx context.Context, userID string) (*alert.AlertSession, error)

	// AppendLocation appends a position sample to the session history.
	AppendLocation(ctx context.Context, sessionID string, sample alert.LocationSample) error

	// UpsertAttempt creates or replaces the delivery record for the
	// attempt's (contact, channel) pair.
	UpsertAttempt(ctx context.Context, sessionID string, attempt alert.NotificationAttempt) error

	// CompareAndSetState advances the session state from one phase to the
	// next. A mismatch with the stored state or a transition absent from the
	// table fails with alert.ErrInvalidStateTransition and leaves the
	// session unchanged. Returns the updated session.
	CompareAndSetState(
		ctx context.Context,
		sessionID string,
		from, to alert.SessionState,
		at time.Time,
	) (*alert.AlertSession, error)

	// SnapshotContacts fixes the session's contact list. It is written once,
	// at confirmation time, and later directory edits never touch it.
	SnapshotContacts(ctx context.Context, sessionID string, contacts []alert.EmergencyContact) error

	// SetFallbackRequired marks the session as needing fallback dispatch.
	// The flag is never cleared.
	SetFallbackRequired(ctx context.Context, sessionID string) error
}

// ErrNotFound is returned when the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// applyTransition validates and applies a state change to the session in place.
// The caller holds whatever lock protects the session.
func applyTransition(s *alert.AlertSession, from, to alert.SessionState, at time.Time) error {
	if s.State != from || !from.CanTransitionTo(to) {
		return alert.ErrInvalidStateTransition
	}

	s.State = to

	switch {
	case to == alert.StateConfirmed:
		s.ConfirmedAt = at
	case to.IsTerminal():
		s.ResolvedAt = at
	}

	return nil
}
