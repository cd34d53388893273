package cwclient

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the Executor and the fetchers
// matches exactly one of them under errors.Is.
var (
	// ErrInvalidArgument marks caller input rejected before any network call.
	ErrInvalidArgument = errors.New("cwclient: invalid argument")

	// ErrRequestFailed marks a non-retryable non-2xx response.
	ErrRequestFailed = errors.New("cwclient: request failed")

	// ErrTransportFailure marks 5xx responses, timeouts and connection errors
	// that outlasted the retry budget.
	ErrTransportFailure = errors.New("cwclient: transport failure")

	// ErrCancelled marks a call abandoned because its context was done.
	ErrCancelled = errors.New("cwclient: cancelled")
)

// RequestError describes a terminal failure of one logical request.
type RequestError struct {
	// Kind is one of the package sentinels.
	Kind error

	Method   string
	Endpoint string

	// StatusCode and Body are from the last response seen, if any.
	StatusCode int
	Body       []byte

	// Attempts counts network attempts, 429 retries included.
	Attempts int

	// Err is the underlying cause, if any (transport error, ctx error).
	Err error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%v: %s %s", e.Kind, e.Method, e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the category and the cause, so errors.Is matches
// ErrCancelled and context.Canceled on the same error.
func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
