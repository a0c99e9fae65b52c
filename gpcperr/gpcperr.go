// Package gpcperr defines the error taxonomy shared by every GPCP layer.
//
// Each kind is a distinguishable sentinel-style error so callers can branch
// with errors.Is/errors.As instead of matching on message text.
package gpcperr

import "fmt"

// Kind identifies which layer rejected an operation and why.
type Kind string

const (
	// ConfigurationError marks invalid arguments, bad host/port/mode/role,
	// or missing required type information at registry build time.
	ConfigurationError Kind = "configuration"
	// HandlerLoadingError marks a duplicate command name or duplicate
	// unknown-command registration.
	HandlerLoadingError Kind = "handler_loading"
	// AnnotationError marks an invalid command identifier.
	AnnotationError Kind = "annotation"
	// UnmetPreconditionError marks an operation whose precondition did not
	// hold, such as client.Dial failing to connect. (An unknown-command
	// fallback always returns raw bytes: its []byte return type is checked
	// at compile time.)
	UnmetPreconditionError Kind = "unmet_precondition"
	// LengthOverflow marks a frame body length outside [0, 0x0FFFFFFF].
	LengthOverflow Kind = "length_overflow"
	// UnknownType marks a packet type or TypeDescriptor id outside the
	// fixed enumeration.
	UnknownType Kind = "unknown_type"
	// Timeout is the cooperative signal used internally to poll stop
	// flags; it is not normally surfaced to calling code.
	Timeout Kind = "timeout"
	// PeerClosed marks a remote close observed by the framed receive path
	// (EOF while reading a frame).
	PeerClosed Kind = "peer_closed"
	// RateLimited marks a call rejected by the rate-limit middleware.
	RateLimited Kind = "rate_limited"
)

// Error is a GPCP error tagged with a Kind, wrapping an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gpcp: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("gpcp: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, gpcperr.New(gpcperr.Timeout, "", nil)) style checks work
// without callers needing to know the Op or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error for op with the given kind, optionally wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel returns a bare *Error of the given kind, suitable for use with
// errors.Is as a comparison target.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
