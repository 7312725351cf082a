package telegram

import (
	"errors"
	"fmt"
)

var errMissingResult = errors.New("response has no result")

// NetworkError is a failure below the Bot API: connection refused, timeout,
// cancelled request, truncated body.
type NetworkError struct {
	Method string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("telegram %s: network: %v", e.Method, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError means the server answered with something that is not a
// Bot API envelope of the expected shape.
type ProtocolError struct {
	Method string
	Status int
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("telegram %s: unexpected response (status %d): %v", e.Method, e.Status, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// APIError is an explicit rejection reported by the Bot API (ok=false).
type APIError struct {
	Method      string
	Code        int
	Description string
	// RetryAfter is set on flood-control errors, in seconds.
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telegram %s: api error %d: %s", e.Method, e.Code, e.Description)
	}
	return fmt.Sprintf("telegram %s: api error: %s", e.Method, e.Description)
}

// IsNotModified reports whether err is the Bot API complaint about an edit
// that would leave the message unchanged.
func IsNotModified(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 400 && containsFold(apiErr.Description, "message is not modified")
}
