// Package dispatch is the boundary to the external telephony/dispatch-call
// service. The engine invokes it with the session and its last known
// position; everything about the actual call belongs to the external side.
package dispatch
