package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for framing and forwarding failures. Callers should use
// [errors.Is] to match these; the reader and proxy wrap them with context.
var (
	// ErrInvalidHead indicates a malformed start line, header line, or a
	// non-numeric status code or Content-Length.
	ErrInvalidHead = errors.New("invalid message head")

	// ErrUnknownMethod is returned for a request line whose method is not
	// one of the supported HTTP methods. It matches [ErrInvalidHead] too.
	ErrUnknownMethod = fmt.Errorf("%w: unknown method", ErrInvalidHead)

	// ErrRequestTooLarge means a header block or declared body exceeded the
	// configured ceiling.
	ErrRequestTooLarge = errors.New("message too large")

	// ErrPrematureStreamEnd means the peer closed the connection before the
	// header terminator or the declared body length was reached.
	ErrPrematureStreamEnd = errors.New("stream ended prematurely")

	// ErrUnsupportedTransferEncoding is returned for chunked bodies, which
	// are deliberately not interpreted.
	ErrUnsupportedTransferEncoding = errors.New("chunked transfer encoding is not supported")

	// ErrUpstreamUnreachable means the routed backend could not be dialed.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrNoRoute means neither the host key nor the default route resolved.
	ErrNoRoute = errors.New("no route")
)

// ConnError wraps an underlying error with connection context.
type ConnError struct {
	ConnID string
	Op     string
	Err    error
}

func (e *ConnError) Error() string {
	if e.ConnID != "" {
		return fmt.Sprintf("conn %s: %s: %v", e.ConnID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}
