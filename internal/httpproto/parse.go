package httpproto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/koltyakov/raccoon/internal/domain"
)

const headerSeparator = ": "

// ParseRequestHead parses a request head (start line plus header lines,
// without the blank-line terminator). The returned request has an empty
// complete body; framing is applied by [ReadRequest].
func ParseRequestHead(head []byte) (*Request, error) {
	lines := strings.Split(string(head), "\r\n")
	start := strings.Split(lines[0], " ")
	if len(start) != 3 {
		return nil, fmt.Errorf("%w: request line %q", domain.ErrInvalidHead, lines[0])
	}
	method, err := ParseMethod(start[0])
	if err != nil {
		return nil, err
	}
	h, err := parseHeaderLines(lines[1:])
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:  method,
		Path:    start[1],
		Version: start[2],
		Header:  h,
		Body:    &CompleteBody{},
	}, nil
}

// ParseResponseHead parses a response head. The reason phrase may contain
// spaces; the status code must be all digits.
func ParseResponseHead(head []byte) (*Response, error) {
	lines := strings.Split(string(head), "\r\n")
	start := strings.SplitN(lines[0], " ", 3)
	if len(start) != 3 {
		return nil, fmt.Errorf("%w: status line %q", domain.ErrInvalidHead, lines[0])
	}
	if !isDigits(start[1]) {
		return nil, fmt.Errorf("%w: status code %q must be numeric", domain.ErrInvalidHead, start[1])
	}
	status, err := strconv.Atoi(start[1])
	if err != nil {
		return nil, fmt.Errorf("%w: status code %q: %v", domain.ErrInvalidHead, start[1], err)
	}
	h, err := parseHeaderLines(lines[1:])
	if err != nil {
		return nil, err
	}
	return &Response{
		Version: start[0],
		Status:  status,
		Reason:  start[2],
		Header:  h,
		Body:    &CompleteBody{},
	}, nil
}

func parseHeaderLines(lines []string) (*Header, error) {
	h := NewHeader()
	for _, line := range lines {
		name, value, ok := strings.Cut(line, headerSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", domain.ErrInvalidHead, line)
		}
		h.Set(name, value)
	}
	return h, nil
}

// ParseCookies splits a Cookie header value into name/value pairs. Parts
// without "=" are skipped; the value is everything after the first "=".
func ParseCookies(raw string) map[string]string {
	cookies := make(map[string]string)
	if raw == "" {
		return cookies
	}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		cookies[key] = value
	}
	return cookies
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
