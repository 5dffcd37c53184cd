package transcoder

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrTimeout       = errors.New("transcoder timed out")
	ErrProcessFailed = errors.New("transcoder process failed")
	ErrEmptyOutput   = errors.New("transcoder produced no output")
)

// Error carries the detail behind a failed conversion. Stderr holds the
// tail of the external process's diagnostics and is meant for logs only.
type Error struct {
	Kind    error
	Invoker string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Invoker, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += " (stderr: " + e.Stderr + ")"
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, invoker string, err error) *Error {
	return &Error{Kind: kind, Invoker: invoker, Err: err}
}

// Kind returns the sentinel for err, or nil when err did not come from
// this package.
func Kind(err error) error {
	for _, k := range []error{ErrTimeout, ErrEmptyOutput, ErrProcessFailed} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether a different invoker might succeed where this
// one failed. Timeouts and cancelled runs are not retryable.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	k := Kind(err)
	return k == ErrProcessFailed || k == ErrEmptyOutput
}
