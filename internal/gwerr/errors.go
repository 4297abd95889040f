// Package gwerr collects the sentinel errors the gateway surfaces either as
// an HTTP status to the client or as a silent connection discard. No error
// escapes the Context that produced it; translation to a status code happens
// at a single point (gateway.Context.sendError).
package gwerr

import "errors"

var (
	// ErrHostNotFound means the request's Host header matched nothing in the
	// active HostMap. Surfaces as 400.
	ErrHostNotFound = errors.New("gateway: host not found")

	// ErrPathNotFound means the Host matched but no Provider covers the
	// request path. Surfaces as 404.
	ErrPathNotFound = errors.New("gateway: no provider for path")

	// ErrOriginUnavailable means the connection pool could not produce a
	// usable origin stream (dial failure, or empty no-dial pool). Surfaces
	// as 503.
	ErrOriginUnavailable = errors.New("gateway: origin host unavailable")

	// ErrOriginPending means a Publisher-backed pool has no idle connection
	// but has asked its controller to attach one; the caller should not
	// respond yet, it will be resumed by a future freeConnection.
	ErrOriginPending = errors.New("gateway: origin connection pending")

	// ErrAuthDenied means Basic-Auth credentials were missing or wrong.
	// Surfaces as 401.
	ErrAuthDenied = errors.New("gateway: auth denied")

	// ErrBadRedirect means a redirect template could not be resolved into a
	// valid URL. Surfaces as 400.
	ErrBadRedirect = errors.New("gateway: bad redirect target")

	// ErrSubscriberConflict means a second Subscriber tried to attach to a
	// Publisher that already has a controller socket. Surfaces as 409.
	ErrSubscriberConflict = errors.New("gateway: subscriber already connected")

	// ErrProtocolUnregistered means a connector string names a scheme with
	// no registered transport. Raised during config load, rejects the host.
	ErrProtocolUnregistered = errors.New("gateway: unregistered connector scheme")

	// ErrEmptyPath means the request line carried no path at all.
	// Surfaces as 400.
	ErrEmptyPath = errors.New("gateway: empty request path")
)
