// Package common holds small helpers shared by the guardian binaries:
// actor detection for the audit trail and the single-instance guard.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
