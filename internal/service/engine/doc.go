// Package engine orchestrates the alert session lifecycle. It opens sessions
// from normalized triggers, arbitrates the grace window between confirmation
// and cancellation through the registry's compare-and-set, and on
// confirmation fixes the contact snapshot and runs the location feed, the
// contact notifier and the escalation watcher for the session.
package engine
