// Package apperr defines the narrow error taxonomy every domain component
// returns at its boundary, so the HTTP/WS surface can map a single small
// enum to status codes instead of inspecting wrapped error chains.
package apperr

import "fmt"

// Kind is one of the taxonomy entries from the error handling design.
type Kind string

const (
	Validation          Kind = "VALIDATION"
	Authentication       Kind = "AUTHENTICATION"
	Authorization        Kind = "AUTHORIZATION"
	NotFound             Kind = "NOT_FOUND"
	Conflict             Kind = "CONFLICT"
	RateLimited          Kind = "RATE_LIMITED"
	ExternalUnavailable  Kind = "EXTERNAL_UNAVAILABLE"
	Internal             Kind = "INTERNAL"
)

// Error is the concrete error type every Store/Bus/Auth/Authz/Hub method
// returns. Message is safe to surface to a client; Err (if set) is the
// underlying cause and is never serialized.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Of extracts the Kind of err, defaulting to Internal for anything that
// isn't one of ours. Handlers use this to pick a status code without
// caring whether the error came from Store, Bus, Auth, Authz, or Hub.
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := err.(*Error); ok {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}

// ClientMessage returns the safe-to-surface message for err: Message for
// an *Error, and a generic fallback for anything else, since a bare
// error's text may leak implementation detail.
func ClientMessage(err error) string {
	if ae, ok := err.(*Error); ok {
		return ae.Message
	}
	return "internal error"
}
