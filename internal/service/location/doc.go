// Package location produces the position stream of an active alert session.
//
// The Feed samples a Provider at a fixed interval and appends each fix to
// the session's history; missing fixes become recorded gaps. Cache is the
// default Provider, fed by device position reports arriving over the API.
package location
