package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind classifies a transport failure so callers can tell "the backend is
// down" apart from a malformed exchange without unwrapping SDK internals.
type Kind int

const (
	KindUnavailable Kind = iota + 1 // endpoint unreachable
	KindTool                        // a tool invocation failed
	KindProtocol                    // the exchange itself was malformed
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTool:
		return "tool_error"
	case KindProtocol:
		return "protocol_error"
	}
	return "unknown"
}

// Error wraps a failure with its kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WrapErr classifies err for op. Connection-level failures become
// KindUnavailable; everything else is reported as given.
func WrapErr(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify inspects a raw client error and assigns a transport kind.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		return &Error{Kind: KindUnavailable, Op: op, Err: err}
	}
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

// KindOf extracts the error kind, or 0 if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsUnavailable reports whether err represents an unreachable collaborator.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
