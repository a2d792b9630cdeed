// Package escalation watches notification outcomes for a dispatching session
// and triggers the fallback dispatch call when no emergency contact is
// reached, either within the configured ceiling after confirmation or as soon
// as every contact's channels are exhausted.
package escalation
