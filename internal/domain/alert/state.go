package alert

// SessionState is the lifecycle phase of an alert session.
// The idle phase has no session object, so it has no state value here.
type SessionState string

const (
	// StateAwaitingConfirmation is the cancel window after a trigger.
	StateAwaitingConfirmation SessionState = "awaiting_confirmation"
	// StateConfirmed means the emergency is live and downstream work is starting.
	StateConfirmed SessionState = "confirmed"
	// StateDispatching means notification and location delivery are in flight.
	StateDispatching SessionState = "dispatching"
	// StateResolved is the terminal state after an explicit resolve signal.
	StateResolved SessionState = "resolved"
	// StateCancelled is the terminal state after a cancel during the grace window.
	StateCancelled SessionState = "cancelled"
)

// transitions is the forward-only state graph. Anything absent is rejected.
//
//nolint:gochecknoglobals // Immutable transition table shared by every validator.
var transitions = map[SessionState][]SessionState{
	StateAwaitingConfirmation: {StateConfirmed, StateCancelled},
	StateConfirmed:            {StateDispatching, StateResolved},
	StateDispatching:          {StateResolved},
	StateResolved:             {},
	StateCancelled:            {},
}

// IsTerminal reports whether no further transition is possible from the state.
func (s SessionState) IsTerminal() bool {
	return s == StateResolved || s == StateCancelled
}

// CanTransitionTo reports whether moving from s to next is a defined forward transition.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
