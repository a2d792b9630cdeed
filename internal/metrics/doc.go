// Package metrics exposes the engine's prometheus instrumentation on a
// process-wide registry: active session gauge, trigger and notification
// outcome counters, fallback escalations and location feed health.
package metrics
