// Package trigger normalizes heterogeneous distress inputs into canonical
// TriggerEvents: button presses aggregated into the triple-press pattern,
// voice detections checked against the confidence floor, and transcript
// keyword scanning for webhook-delivered voice content.
package trigger
