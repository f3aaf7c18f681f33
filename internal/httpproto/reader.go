package httpproto

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/koltyakov/raccoon/internal/domain"
)

// maxConsecutiveEmptyReads bounds (0, nil) reads before giving up, as bufio does.
const maxConsecutiveEmptyReads = 100

var headTerminator = []byte("\r\n\r\n")

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0)
		return &b
	},
}

func getChunk(size int) *[]byte {
	ref := chunkPool.Get().(*[]byte)
	if cap(*ref) < size {
		*ref = make([]byte, size)
	} else {
		*ref = (*ref)[:size]
	}
	return ref
}

// ReadHeader reads from r, bufferSize bytes at a time, until the first
// "\r\n\r\n". It returns the head before the terminator and any bytes that
// followed it in the same reads. The limit covers the head block including
// its 4-byte terminator: a block of exactly maxHeaderSize bytes is accepted,
// one byte more fails with [domain.ErrRequestTooLarge].
func ReadHeader(r io.Reader, bufferSize, maxHeaderSize int) (head, prefix []byte, err error) {
	chunkRef := getChunk(bufferSize)
	defer chunkPool.Put(chunkRef)
	chunk := *chunkRef

	buf := make([]byte, 0, bufferSize)
	empty := 0
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			empty = 0
			// The terminator may straddle the previous read.
			from := max(len(buf)-len(headTerminator)+1, 0)
			buf = append(buf, chunk[:n]...)
			if idx := bytes.Index(buf[from:], headTerminator); idx >= 0 {
				end := from + idx
				if end+len(headTerminator) > maxHeaderSize {
					return nil, nil, headerTooLarge(end+len(headTerminator), maxHeaderSize)
				}
				rest := buf[end+len(headTerminator):]
				return buf[:end:end], rest[:len(rest):len(rest)], nil
			}
			if len(buf) > maxHeaderSize {
				return nil, nil, headerTooLarge(len(buf), maxHeaderSize)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil, nil, fmt.Errorf("%w: connection closed after %d header bytes", domain.ErrPrematureStreamEnd, len(buf))
			}
			return nil, nil, rerr
		}
		if n == 0 {
			empty++
			if empty >= maxConsecutiveEmptyReads {
				return nil, nil, io.ErrNoProgress
			}
		}
	}
}

func headerTooLarge(got, limit int) error {
	return fmt.Errorf("%w: header of %s exceeds %s", domain.ErrRequestTooLarge,
		humanize.IBytes(uint64(got)), humanize.IBytes(uint64(limit)))
}

// BodyLength inspects the framing headers and returns the declared body
// length, or -1 when the message has no body. Chunked bodies are rejected;
// a declared length above maxBodySize fails before anything is read.
func BodyLength(h *Header, maxBodySize int64) (int64, error) {
	if te, ok := h.Lookup("Transfer-Encoding"); ok && isChunked(te) {
		return 0, domain.ErrUnsupportedTransferEncoding
	}
	raw, ok := h.Lookup("Content-Length")
	if !ok {
		return -1, nil
	}
	if !isDigits(raw) {
		return 0, fmt.Errorf("%w: Content-Length %q must be numeric", domain.ErrInvalidHead, raw)
	}
	length, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: Content-Length %q: %v", domain.ErrInvalidHead, raw, err)
	}
	if length > maxBodySize {
		return 0, fmt.Errorf("%w: body of %s exceeds %s", domain.ErrRequestTooLarge,
			humanize.IBytes(uint64(length)), humanize.IBytes(uint64(maxBodySize)))
	}
	return length, nil
}

func isChunked(te string) bool {
	for _, token := range strings.Split(te, ",") {
		if strings.EqualFold(strings.TrimSpace(token), "chunked") {
			return true
		}
	}
	return false
}

// ReadBody materializes the body declared by h. prefix holds body bytes
// already read together with the head. It returns exactly the declared
// number of bytes, or nil when the message has no body.
func ReadBody(src io.Reader, bufferSize int, prefix []byte, h *Header, maxBodySize int64) ([]byte, error) {
	length, err := BodyLength(h, maxBodySize)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, nil
	}
	body := make([]byte, 0, length)
	body = append(body, prefix[:min(int64(len(prefix)), length)]...)
	err = readRemaining(src, bufferSize, length-int64(len(body)), func(p []byte) error {
		body = append(body, p...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// CopyBody streams the body declared by h from src to dst. prefix is the
// part of the body that was already relayed together with the head; it is
// counted against the declared length but not written again. Only one
// bufferSize chunk is held in memory at a time. It returns the number of
// bytes written to dst.
func CopyBody(dst io.Writer, src io.Reader, bufferSize int, prefix []byte, h *Header, maxBodySize int64) (int64, error) {
	length, err := BodyLength(h, maxBodySize)
	if err != nil {
		return 0, err
	}
	if length < 0 {
		return 0, nil
	}
	return copyRemaining(dst, src, bufferSize, length-int64(len(prefix)))
}

func copyRemaining(dst io.Writer, src io.Reader, bufferSize int, remaining int64) (int64, error) {
	var written int64
	err := readRemaining(src, bufferSize, remaining, func(p []byte) error {
		n, err := dst.Write(p)
		written += int64(n)
		return err
	})
	return written, err
}

func readRemaining(src io.Reader, bufferSize int, remaining int64, sink func([]byte) error) error {
	if remaining <= 0 {
		return nil
	}
	chunkRef := getChunk(bufferSize)
	defer chunkPool.Put(chunkRef)
	chunk := *chunkRef

	empty := 0
	for remaining > 0 {
		want := min(int64(len(chunk)), remaining)
		n, rerr := src.Read(chunk[:want])
		if n > 0 {
			empty = 0
			remaining -= int64(n)
			if err := sink(chunk[:n]); err != nil {
				return err
			}
		}
		if remaining == 0 {
			return nil
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return fmt.Errorf("%w: connection closed with %d body bytes outstanding", domain.ErrPrematureStreamEnd, remaining)
			}
			return rerr
		}
		if n == 0 {
			empty++
			if empty >= maxConsecutiveEmptyReads {
				return io.ErrNoProgress
			}
		}
	}
	return nil
}

// ReadRequest reads a request head from r and applies body framing. The
// body is complete when it has no framing or already arrived with the head;
// otherwise it is pending on r.
func ReadRequest(r io.Reader, bufferSize, maxHeaderSize int, maxBodySize int64) (*Request, error) {
	head, prefix, err := ReadHeader(r, bufferSize, maxHeaderSize)
	if err != nil {
		return nil, err
	}
	req, err := ParseRequestHead(head)
	if err != nil {
		return nil, err
	}
	if req.Body, err = frameBody(req.Header, prefix, maxBodySize, false); err != nil {
		return nil, err
	}
	return req, nil
}

// ReadResponse reads a response head from r and applies body framing.
func ReadResponse(r io.Reader, bufferSize, maxHeaderSize int, maxBodySize int64) (*Response, error) {
	return ReadResponseFor(r, "", bufferSize, maxHeaderSize, maxBodySize)
}

// maxInterimResponses bounds the 1xx heads skipped before a final response.
const maxInterimResponses = 8

// ReadResponseFor is [ReadResponse] for the answer to a request made with
// method. Interim 1xx heads other than 101 are skipped and the next head is
// read. Responses that cannot carry a body (to HEAD, 1xx, 204, 304) are
// complete and empty whatever their Content-Length says. A response without
// Content-Length keeps the bytes that arrived with its head as its body.
func ReadResponseFor(r io.Reader, method Method, bufferSize, maxHeaderSize int, maxBodySize int64) (*Response, error) {
	var prefix []byte
	for interim := 0; ; interim++ {
		src := r
		var held *bytes.Reader
		if len(prefix) > 0 {
			held = bytes.NewReader(prefix)
			src = io.MultiReader(held, r)
		}
		head, rest, err := ReadHeader(src, bufferSize, maxHeaderSize)
		if err != nil {
			return nil, err
		}
		if held != nil && held.Len() > 0 {
			// Bytes still held belong after rest on the wire.
			tail := make([]byte, held.Len())
			_, _ = held.Read(tail)
			rest = append(rest[:len(rest):len(rest)], tail...)
		}
		prefix = rest

		resp, err := ParseResponseHead(head)
		if err != nil {
			return nil, err
		}
		if isInterim(resp.Status) {
			if interim >= maxInterimResponses {
				return nil, fmt.Errorf("%w: more than %d interim responses", domain.ErrInvalidHead, maxInterimResponses)
			}
			continue
		}
		if !ResponseHasBody(method, resp.Status) {
			resp.Body = &CompleteBody{}
			return resp, nil
		}
		if resp.Body, err = frameBody(resp.Header, prefix, maxBodySize, true); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

func isInterim(status int) bool {
	return status >= 100 && status < 200 && status != 101
}

// ResponseHasBody reports whether a response with status to a request made
// with method may carry a body.
func ResponseHasBody(method Method, status int) bool {
	switch {
	case method == MethodHead:
		return false
	case status >= 100 && status < 200:
		return false
	case status == 204 || status == 304:
		return false
	}
	return true
}

// frameBody applies Content-Length framing to prefix. Without a declared
// length the body is empty unless keepUnframed is set, in which case prefix
// is the whole body.
func frameBody(h *Header, prefix []byte, maxBodySize int64, keepUnframed bool) (Body, error) {
	length, err := BodyLength(h, maxBodySize)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		if keepUnframed {
			return &CompleteBody{Data: prefix}, nil
		}
		return &CompleteBody{}, nil
	}
	if int64(len(prefix)) >= length {
		return &CompleteBody{Data: prefix[:length]}, nil
	}
	return &PendingBody{Prefix: prefix, Length: length}, nil
}

// CopyPending streams the unread remainder of a pending body from src to
// dst. It is a no-op for complete bodies.
func CopyPending(dst io.Writer, src io.Reader, bufferSize int, body Body) (int64, error) {
	pending, ok := body.(*PendingBody)
	if !ok {
		return 0, nil
	}
	return copyRemaining(dst, src, bufferSize, pending.Remaining())
}
