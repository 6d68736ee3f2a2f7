// Package errors provides typed errors with exit codes for boxctl.
//
// # Error Types
//
// BoxError is the base error type that wraps an error with an exit code:
//
//	type BoxError struct {
//	    Code    int    // Exit code
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// Two BoxErrors with the same code match under errors.Is, so callers test
// for a kind with the exported sentinels:
//
//	if errors.Is(err, errors.ErrPortInUse) { ... }
//
// # Kinds
//
//	ConfigParse          malformed on-disk config, retried next sync tick
//	ConfigWrite          atomic write failed, destination left intact
//	DuplicateSession     a new connection replaced an active one
//	PortInUse            host port conflict, surfaced to the caller
//	SessionNotFound      session is not connected right now
//	NotificationDelivery a sink failed, the notification is dropped
//	SummarizerTimeout    summary skipped, raw message delivered
//
// GetExitCode maps any error to the process exit code used by main.
package errors
