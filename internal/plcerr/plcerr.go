// Package plcerr defines the structured error taxonomy returned across
// the codec, connection, pool, session, registry, and facade packages.
package plcerr

import "fmt"

// Kind identifies which error taxonomy entry an Error belongs to.
type Kind string

const (
	KindConfigInvalid   Kind = "CONFIG_INVALID"
	KindUnknownAlias    Kind = "UNKNOWN_ALIAS"
	KindUnknownSession  Kind = "UNKNOWN_SESSION"
	KindTransport       Kind = "TRANSPORT"
	KindEnipProtocol    Kind = "ENIP_PROTOCOL"
	KindMalformedFrame  Kind = "MALFORMED_FRAME"
	KindPoolTimeout     Kind = "POOL_TIMEOUT"
	KindPoolClosed      Kind = "POOL_CLOSED"
	KindSessionClosed   Kind = "SESSION_CLOSED"
	KindCancelled       Kind = "CANCELLED"
	KindRegisterFailed  Kind = "REGISTER_FAILED"
	KindForwardOpenFail Kind = "FORWARD_OPEN_FAILED"
)

// Error is the structured error type returned by every package in this
// module. CIP-level failures (general status != 0) of caller-issued
// requests are not wrapped in an Error — they are returned as a
// cip.Status value. The connection's own Forward Open, Forward Close,
// and identity read do turn a non-zero status into an Error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: [%s] %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: [%s] %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is itself an *Error of the given kind. It
// does not unwrap err, so an *Error wrapped inside another error is
// not matched; errors.As plus inspecting Kind finds it through Unwrap
// chains. Kind is not an error value, so errors.Is cannot match on it.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if err == nil {
		return false
	}
	if pe, ok := err.(*Error); ok {
		return pe.Kind == kind
	}
	_ = e
	return false
}

// Connection-invalidating reports whether an error of this kind should
// cause the owning connection to transition to Broken and be replaced
// by the pool, per spec.md §7's propagation policy.
func (k Kind) ConnectionInvalidating() bool {
	switch k {
	case KindTransport, KindMalformedFrame, KindEnipProtocol, KindRegisterFailed, KindForwardOpenFail:
		return true
	default:
		return false
	}
}
