package httpproto

import (
	"bytes"
	"io"
	"strconv"
	"sync"
)

var headBufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// Encode returns the wire form of the request head followed by the body
// bytes the request currently holds.
func (r *Request) Encode() []byte {
	var buf bytes.Buffer
	encodeMessage(&buf, string(r.Method), r.Path, r.Version, r.Header, bufferedBytes(r.Body))
	return buf.Bytes()
}

// WriteTo writes the head and buffered body bytes to w in a single write.
// A pending body remainder is not read; see [CopyBody].
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	return writeMessage(w, string(r.Method), r.Path, r.Version, r.Header, bufferedBytes(r.Body))
}

// Encode returns the wire form of the response head followed by the body
// bytes the response currently holds.
func (r *Response) Encode() []byte {
	var buf bytes.Buffer
	encodeMessage(&buf, r.Version, strconv.Itoa(r.Status), r.Reason, r.Header, bufferedBytes(r.Body))
	return buf.Bytes()
}

// WriteTo writes the head and buffered body bytes to w in a single write.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	return writeMessage(w, r.Version, strconv.Itoa(r.Status), r.Reason, r.Header, bufferedBytes(r.Body))
}

func writeMessage(w io.Writer, a, b, c string, h *Header, body []byte) (int64, error) {
	buf := headBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer headBufferPool.Put(buf)

	encodeMessage(buf, a, b, c, h, body)
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func encodeMessage(buf *bytes.Buffer, a, b, c string, h *Header, body []byte) {
	buf.WriteString(a)
	buf.WriteByte(' ')
	buf.WriteString(b)
	buf.WriteByte(' ')
	buf.WriteString(c)
	buf.WriteString("\r\n")
	for name, value := range h.All() {
		buf.WriteString(name)
		buf.WriteString(headerSeparator)
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body)
}
