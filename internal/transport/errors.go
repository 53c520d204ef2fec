package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is the reason recorded for a Task closed by its owner.
var ErrClosed = errors.New("transport: closed")

// Attempt records why one variant failed to connect.
type Attempt struct {
	Kind Kind
	Err  error
}

// ConnectError is returned by Connect when every variant failed. It lists
// the attempts in the order they were made.
type ConnectError struct {
	URL      string
	Attempts []Attempt
}

func (e *ConnectError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Kind, a.Err))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("connect %s: no transport attempted", e.URL)
	}
	return fmt.Sprintf("connect %s: %s", e.URL, strings.Join(parts, "; "))
}

func (e *ConnectError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// SendError describes a failed write. Most are transient and only logged;
// one that ends the Task is also its Err.
type SendError struct {
	Kind  Kind
	Lossy bool
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send over %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
