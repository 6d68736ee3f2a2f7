package errors

import (
	"errors"
	"fmt"
	"time"
)

// Exit codes for boxctl
const (
	ExitSuccess              = 0
	ExitGeneralError         = 1
	ExitUsage                = 2
	ExitConfigParse          = 3
	ExitConfigWrite          = 4
	ExitDuplicateSession     = 5
	ExitPortInUse            = 6
	ExitSessionNotFound      = 7
	ExitNotificationDelivery = 8
	ExitSummarizerTimeout    = 9
	ExitConfigError          = 10
	ExitDaemonUnavailable    = 11
)

// BoxError is the base error type for boxctl
type BoxError struct {
	Code    int
	Message string
	Cause   error
}

func (e *BoxError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BoxError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a BoxError of the same kind. This lets
// callers match against the sentinels below with errors.Is.
func (e *BoxError) Is(target error) bool {
	t, ok := target.(*BoxError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Code != ExitGeneralError
}

// ExitCode returns the exit code for this error
func (e *BoxError) ExitCode() int {
	return e.Code
}

// New creates a new BoxError
func New(code int, message string) *BoxError {
	return &BoxError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a BoxError
func Wrap(code int, message string, cause error) *BoxError {
	return &BoxError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is matching.
var (
	ErrConfigParse          = New(ExitConfigParse, "config parse error")
	ErrConfigWrite          = New(ExitConfigWrite, "config write error")
	ErrDuplicateSession     = New(ExitDuplicateSession, "duplicate session")
	ErrPortInUse            = New(ExitPortInUse, "port in use")
	ErrSessionNotFound      = New(ExitSessionNotFound, "session not found")
	ErrNotificationDelivery = New(ExitNotificationDelivery, "notification delivery failed")
	ErrSummarizerTimeout    = New(ExitSummarizerTimeout, "summarizer timed out")
	ErrDaemonUnavailable    = New(ExitDaemonUnavailable, "daemon unavailable")
)

// ConfigParse returns an error for a malformed config document
func ConfigParse(path string, cause error) *BoxError {
	return Wrap(ExitConfigParse, fmt.Sprintf("failed to parse %s", path), cause)
}

// ConfigWrite returns an error for a failed atomic config write
func ConfigWrite(path string, cause error) *BoxError {
	return Wrap(ExitConfigWrite, fmt.Sprintf("failed to write %s", path), cause)
}

// DuplicateSession returns the error recorded when a new connection
// supersedes an active session with the same identity
func DuplicateSession(identity string) *BoxError {
	return New(ExitDuplicateSession, fmt.Sprintf("session %s superseded by a new connection", identity))
}

// PortInUse returns an error for a host port that is already taken.
// owner names the conflicting project when known.
func PortInUse(port int, owner string) *BoxError {
	if owner != "" {
		return New(ExitPortInUse, fmt.Sprintf("host port %d is already in use by project %s", port, owner))
	}
	return New(ExitPortInUse, fmt.Sprintf("host port %d is already in use", port))
}

// SessionNotFound returns an error for a session that is not connected
func SessionNotFound(identity string) *BoxError {
	return New(ExitSessionNotFound, fmt.Sprintf("session not found: %s", identity))
}

// NotificationDelivery returns an error for a sink that failed to deliver
func NotificationDelivery(sink string, cause error) *BoxError {
	return Wrap(ExitNotificationDelivery, fmt.Sprintf("notification sink %s failed", sink), cause)
}

// SummarizerTimeout returns an error for a summarizer that exceeded its budget
func SummarizerTimeout(after time.Duration) *BoxError {
	return New(ExitSummarizerTimeout, fmt.Sprintf("summarizer did not answer within %s", after))
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *BoxError {
	return Wrap(ExitConfigError, message, cause)
}

// DaemonUnavailable returns an error when the daemon socket cannot be reached
func DaemonUnavailable(cause error) *BoxError {
	return Wrap(ExitDaemonUnavailable, "boxctl daemon is not reachable", cause)
}

// ValidationError returns an error for input validation failures
func ValidationError(message string) *BoxError {
	return New(ExitUsage, message)
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	var boxErr *BoxError
	if errors.As(err, &boxErr) {
		return boxErr.ExitCode()
	}
	return ExitGeneralError
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
