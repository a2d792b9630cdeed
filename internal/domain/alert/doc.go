// Package alert contains core domain types for the alert orchestration engine.
//
// It defines TriggerEvent (the canonical distress trigger), AlertSession (the
// lifecycle record of one emergency episode) with its contact snapshot,
// location history and notification attempts, the forward-only SessionState
// transition table, and the engine's error taxonomy. Clone helpers avoid
// leaking internal references across goroutines.
package alert
