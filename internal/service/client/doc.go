// Package client implements the HTTP client used by the guardian-trigger
// binary to talk to the engine API: button and voice triggers, cancel,
// resolve, status and device position reports.
package client
