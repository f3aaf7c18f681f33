package httpproto

import (
	"iter"
	"strings"
)

// Header is an insertion-ordered set of header fields. Names are stored
// exactly as received; a repeated name replaces the earlier value but keeps
// its original position.
type Header struct {
	names  []string
	values map[string]string
}

// NewHeader returns an empty header set.
func NewHeader() *Header {
	return &Header{values: make(map[string]string)}
}

// Set stores value under name, replacing any field with the exact same name.
func (h *Header) Set(name, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = value
}

// Get returns the value stored under the exact name.
func (h *Header) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h.values[name]
	return v, ok
}

// Lookup returns the first field whose name matches case-insensitively.
func (h *Header) Lookup(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	if v, ok := h.values[name]; ok {
		return v, true
	}
	for _, n := range h.names {
		if strings.EqualFold(n, name) {
			return h.values[n], true
		}
	}
	return "", false
}

// Del removes the field with the exact name.
func (h *Header) Del(name string) {
	if h == nil {
		return
	}
	if _, ok := h.values[name]; !ok {
		return
	}
	delete(h.values, name)
	for i, n := range h.names {
		if n == name {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
}

// DelFold removes every field whose name matches case-insensitively.
func (h *Header) DelFold(name string) {
	if h == nil {
		return
	}
	kept := h.names[:0]
	for _, n := range h.names {
		if strings.EqualFold(n, name) {
			delete(h.values, n)
			continue
		}
		kept = append(kept, n)
	}
	h.names = kept
}

// Len returns the number of fields.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.names)
}

// All yields fields in insertion order.
func (h *Header) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if h == nil {
			return
		}
		for _, n := range h.names {
			if !yield(n, h.values[n]) {
				return
			}
		}
	}
}

// Names returns a copy of the field names in insertion order.
func (h *Header) Names() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}
