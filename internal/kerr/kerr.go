// Package kerr defines the semantic error kinds used across the daemon
// (spec section 7): Parse, Configuration, External, Internal. These are
// carried as typed errors so pipelines can map them onto the wire ApiError
// kind without string matching.
package kerr

import "github.com/pkg/errors"

// Kind is one of the semantic error categories from the error handling
// design. It is never a transport or codec specific type, only the meaning.
type Kind int

const (
	// KindNone marks "no error" — used on the wire, never constructed here.
	KindNone Kind = iota
	// KindParse means wire bytes or arguments failed to decode. Never retried.
	KindParse
	// KindConfiguration means the node itself is misconfigured. Fatal at
	// startup, surfaced verbatim at runtime.
	KindConfiguration
	// KindExternal means a peer was unreachable, timed out, or failed
	// authentication. Recovered locally; never fatal.
	KindExternal
	// KindInternal means an invariant failed. Logged; current request fails.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindConfiguration:
		return "configuration"
	case KindExternal:
		return "external"
	case KindInternal:
		return "internal"
	default:
		return "none"
	}
}

// Error pairs a Kind with its cause. The cause is wrapped via
// github.com/pkg/errors, which records a stack trace at the point the kind
// was first assigned; *Error has no Format method, so formatting it with
// %+v prints only Error()'s text, and the trace is reached through Unwrap.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// wrap produces msg alone when cause is nil (errors.Wrap(nil, msg) returns
// nil, which would silently drop msg) and cause wrapped in msg otherwise.
func wrap(cause error, msg string) error {
	if cause == nil {
		return errors.New(msg)
	}
	return errors.Wrap(cause, msg)
}

// Parse wraps cause as a Parse error.
func Parse(cause error, msg string) error {
	return &Error{Kind: KindParse, cause: wrap(cause, msg)}
}

// Configuration wraps cause as a Configuration error.
func Configuration(cause error, msg string) error {
	return &Error{Kind: KindConfiguration, cause: wrap(cause, msg)}
}

// External wraps cause as an External error.
func External(cause error, msg string) error {
	return &Error{Kind: KindExternal, cause: wrap(cause, msg)}
}

// Internal wraps cause as an Internal error.
func Internal(cause error, msg string) error {
	return &Error{Kind: KindInternal, cause: wrap(cause, msg)}
}

// KindOf extracts the Kind carried by err, or KindInternal if err does not
// carry one (an un-annotated error reaching the wire boundary is itself a
// bug, so it is treated as Internal rather than silently becoming Parse).
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
