// Package sferrors declares the core's error taxonomy (SPEC_FULL.md §7).
// These are classification sentinels, not exhaustive type hierarchies:
// components wrap one of these with context via ScanError.
package sferrors

import "errors"

var (
	// ErrInvalidTarget: supplied target fails validation; scan not started.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrResolverUnsatisfied: one or more modules have unmet required inputs.
	ErrResolverUnsatisfied = errors.New("resolver: unsatisfied module dependencies")
	// ErrResolverCircular: a cycle was detected in the selected module set.
	ErrResolverCircular = errors.New("resolver: circular module dependency")
	// ErrQueueRejected: producer enqueue failed (REJECT, BLOCK timeout, DLQ overflow).
	ErrQueueRejected = errors.New("queue: item rejected")
	// ErrModuleFailure: a module raised during HandleEvent.
	ErrModuleFailure = errors.New("module: handler failed")
	// ErrTransportFailure: HTTP/DNS failure inside the module host.
	ErrTransportFailure = errors.New("host: transport failure")
	// ErrRateLimited: identifier over its configured budget.
	ErrRateLimited = errors.New("host: rate limited")
	// ErrCancelled: scan stop flag observed; in-flight work terminates cooperatively.
	ErrCancelled = errors.New("scan: cancelled")
	// ErrFatal: unrecoverable internal invariant violation.
	ErrFatal = errors.New("scan: fatal internal error")
)

// ScanError wraps one of the sentinel kinds above with the module and event
// context it occurred in, the way CrawlError wraps a stage and URL.
type ScanError struct {
	Kind   error
	Module string
	Event  string
	Err    error
}

func (e *ScanError) Error() string {
	msg := e.Kind.Error()
	if e.Module != "" {
		msg += " module=" + e.Module
	}
	if e.Event != "" {
		msg += " event=" + e.Event
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScanError) Unwrap() error { return e.Kind }

// New constructs a ScanError for the given taxonomy kind.
func New(kind error, module, eventType string, cause error) *ScanError {
	return &ScanError{Kind: kind, Module: module, Event: eventType, Err: cause}
}
