// Package alerts exposes the alert engine over HTTP: the wearable webhook,
// raw button and voice trigger ingress, session cancel/resolve operations,
// device position reports and the health endpoint.
package alerts
