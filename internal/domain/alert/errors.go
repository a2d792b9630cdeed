package alert

import "errors"

var (
	// ErrInvalidTriggerInput indicates a malformed or low-confidence trigger input.
	// Rejected inputs have no session effect.
	ErrInvalidTriggerInput = errors.New("invalid trigger input")
	// ErrSessionAlreadyActive indicates a duplicate trigger while a session is live.
	// The existing session is surfaced unchanged.
	ErrSessionAlreadyActive = errors.New("session already active")
	// ErrInvalidStateTransition indicates an out-of-order or backward state write.
	// The write is rejected and the session left unaffected.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrDeliveryExhausted indicates a contact could not be reached on any channel.
	// It is reported as data and never fails the session.
	ErrDeliveryExhausted = errors.New("delivery exhausted")
	// ErrFeedUnavailable indicates a transient location gap.
	// The feed records the gap and keeps trying.
	ErrFeedUnavailable = errors.New("location feed unavailable")
)
