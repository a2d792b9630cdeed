// Package audit emits immutable records of everything the engine decides:
// trigger outcomes, state transitions, notification outcomes, location gaps
// and fallback escalations.
//
// Sinks are fire-and-forget by contract; a failing sink is logged and never
// allowed to affect an in-flight emergency.
package audit
