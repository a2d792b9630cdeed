// Package config defines engine settings used by the guardian binaries and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the HTTP listen address, the session store selection,
// audit transport settings and the timing knobs of the alert engine. Validate
// fills defaults for everything that can be defaulted safely.
package config
