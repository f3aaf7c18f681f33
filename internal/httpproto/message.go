// Package httpproto implements the HTTP/1.1 message model and the framed
// socket reader used by the proxy. It deliberately does not use net/http:
// messages are parsed and relayed as raw head plus body bytes.
package httpproto

import (
	"fmt"

	"github.com/koltyakov/raccoon/internal/domain"
)

// Method is an HTTP request method.
type Method string

const (
	MethodConnect Method = "CONNECT"
	MethodDelete  Method = "DELETE"
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodPatch   Method = "PATCH"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodTrace   Method = "TRACE"
)

// ParseMethod validates a request-line method token.
func ParseMethod(token string) (Method, error) {
	switch m := Method(token); m {
	case MethodConnect, MethodDelete, MethodGet, MethodHead, MethodOptions,
		MethodPatch, MethodPost, MethodPut, MethodTrace:
		return m, nil
	}
	return "", fmt.Errorf("%w %q", domain.ErrUnknownMethod, token)
}

// Body is the body state of a message: either [*PendingBody] when only the
// head has been read, or [*CompleteBody] when the whole body is in memory.
type Body interface {
	// Buffered returns the body bytes currently held by the message.
	Buffered() []byte
}

// PendingBody holds the bytes that arrived together with the head. The
// remaining Length-len(Prefix) bytes are still unread on the connection.
type PendingBody struct {
	Prefix []byte
	Length int64
}

func (b *PendingBody) Buffered() []byte { return b.Prefix }

// Remaining returns the number of body bytes still to be read.
func (b *PendingBody) Remaining() int64 {
	return b.Length - int64(len(b.Prefix))
}

// CompleteBody is a fully materialized body.
type CompleteBody struct {
	Data []byte
}

func (b *CompleteBody) Buffered() []byte { return b.Data }

// Request is an HTTP request message.
type Request struct {
	Method  Method
	Path    string
	Version string
	Header  *Header
	Body    Body
}

// NewRequest returns a request with an empty header set and empty body.
func NewRequest(method Method, path, version string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Version: version,
		Header:  NewHeader(),
		Body:    &CompleteBody{},
	}
}

// SetBody replaces the body and marks it complete.
func (r *Request) SetBody(b []byte) {
	r.Body = &CompleteBody{Data: b}
}

// BodyComplete reports whether the full body is held in memory.
func (r *Request) BodyComplete() bool {
	return isComplete(r.Body)
}

// Response is an HTTP response message.
type Response struct {
	Version string
	Status  int
	Reason  string
	Header  *Header
	Body    Body
}

// NewResponse returns an HTTP/1.1 response with an empty header set and
// empty body.
func NewResponse(status int, reason string) *Response {
	return &Response{
		Version: "HTTP/1.1",
		Status:  status,
		Reason:  reason,
		Header:  NewHeader(),
		Body:    &CompleteBody{},
	}
}

// SetBody replaces the body and marks it complete.
func (r *Response) SetBody(b []byte) {
	r.Body = &CompleteBody{Data: b}
}

// BodyComplete reports whether the full body is held in memory.
func (r *Response) BodyComplete() bool {
	return isComplete(r.Body)
}

func isComplete(b Body) bool {
	if b == nil {
		return true
	}
	_, ok := b.(*CompleteBody)
	return ok
}

func bufferedBytes(b Body) []byte {
	if b == nil {
		return nil
	}
	return b.Buffered()
}
