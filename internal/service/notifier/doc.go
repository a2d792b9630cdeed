// Package notifier delivers alert payloads to a session's emergency-contact
// snapshot.
//
// Contacts are handled concurrently and independently; channels for one
// contact race under first-success-wins; attempts within one channel are
// strictly sequential with exponential backoff. All progress lives in the
// session registry's attempt records, which makes a second invocation after
// a restart resume instead of double-delivering.
package notifier
