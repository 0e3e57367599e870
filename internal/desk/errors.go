package desk

import (
	"errors"
	"fmt"
	"time"
)

// TransientError indicates a failure that is expected to clear on its own:
// network errors, timeouts, and 5xx responses. Callers may retry.
type TransientError struct {
	Op         string // the API operation that failed, e.g. "presence"
	StatusCode int    // HTTP status, 0 if the request never completed
	Err        error  // underlying cause, may be nil for bare status codes
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("desk: %s: transient failure: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("desk: %s: transient failure: status %d", e.Op, e.StatusCode)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError indicates the remote service throttled the request (429).
// RetryAfter carries the server's Retry-After hint, zero if none was sent.
// It is a signal for telemetry and logging; retry pacing is decided by the
// caller, not by this package.
type RateLimitedError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("desk: %s: rate limited, retry after %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("desk: %s: rate limited", e.Op)
}

// AuthError indicates the remote service rejected the credentials (401/403).
type AuthError struct {
	Op         string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("desk: %s: credentials rejected: status %d", e.Op, e.StatusCode)
}

// ParseError indicates the response body could not be decoded.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("desk: %s: malformed response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a [TransientError]. Rate limiting is
// not transient in this sense: a 429 means the service is healthy but
// saturated, and callers count it separately.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRateLimited reports whether err is a [RateLimitedError], returning the
// server's Retry-After hint when present.
func IsRateLimited(err error) (time.Duration, bool) {
	var re *RateLimitedError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// IsAuth reports whether err is an [AuthError].
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
