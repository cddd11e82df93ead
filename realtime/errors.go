package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when a caller lacks membership or role.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest marks malformed frames, unknown events and unknown update types.
	ErrBadRequest = errors.New("bad request")
	// ErrShuttingDown is returned once Shutdown has run or the reactor stopped.
	ErrShuttingDown = errors.New("realtime service shutting down")
	// ErrConnectionGone means the connection was torn down while a request was in flight.
	ErrConnectionGone = errors.New("connection no longer registered")
	// ErrInternal wraps unexpected handler failures.
	ErrInternal = errors.New("internal error")
)

// AuthError rejects a handshake. No registry state exists when it is returned.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// Error codes carried by outbound error events.
const (
	CodeForbidden    = "FORBIDDEN"
	CodeBadRequest   = "BAD_REQUEST"
	CodeInternal     = "INTERNAL"
	CodeShuttingDown = "SHUTTING_DOWN"
)

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrShuttingDown):
		return CodeShuttingDown
	default:
		return CodeInternal
	}
}
