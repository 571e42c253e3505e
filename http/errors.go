package http

import (
	"fmt"
)

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	KindMethodBodyConflict ErrorKind = "method_body_conflict"
	KindTimeout            ErrorKind = "timeout"
	KindNetwork            ErrorKind = "network"
	KindAbortedByHook      ErrorKind = "aborted_by_hook"
	KindInvalidHook        ErrorKind = "invalid_hook"
	KindInvalidHookResult  ErrorKind = "invalid_hook_result"
	KindBodyTransform      ErrorKind = "body_transform"
	KindResponse           ErrorKind = "response"

	// KindInvalidInput covers query, header and body values the engine
	// cannot normalize or serialize.
	KindInvalidInput ErrorKind = "invalid_input"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrMethodBodyConflict = &Error{Kind: KindMethodBodyConflict}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrAbortedByHook      = &Error{Kind: KindAbortedByHook}
	ErrInvalidHook        = &Error{Kind: KindInvalidHook}
	ErrInvalidHookResult  = &Error{Kind: KindInvalidHookResult}
	ErrBodyTransform      = &Error{Kind: KindBodyTransform}
	ErrResponse           = &Error{Kind: KindResponse}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
)

// Error is returned for every failure the engine itself raises. Errors
// returned by hooks are passed through wrapped, not converted.
type Error struct {
	Kind       ErrorKind
	Message    string
	Checkpoint Checkpoint

	// Response is set for KindResponse.
	Response *Response

	Cause error
}

// Error implements error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("fetchx: %s: %s", e.Kind, e.Message)
	if e.Checkpoint != "" {
		msg = fmt.Sprintf("%s (at %s)", msg, e.Checkpoint)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}
