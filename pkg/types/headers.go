package types

import (
	"net/http"
	"strings"
)

// Headers is an ordered slice of header name/value pairs as they appeared on
// the wire. Names keep their original case.
type Headers [][]string

// Get returns the first value for the given header name (case-insensitive).
// Returns an empty string if the header is not found.
func (h Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the first value for name and whether the header was present.
func (h Headers) Lookup(name string) (string, bool) {
	for _, pair := range h {
		if len(pair) >= 2 && strings.EqualFold(pair[0], name) {
			return pair[1], true
		}
	}
	return "", false
}

// Values returns all values for the given header name (case-insensitive).
func (h Headers) Values(name string) []string {
	var values []string
	for _, pair := range h {
		if len(pair) >= 2 && strings.EqualFold(pair[0], name) {
			values = append(values, pair[1])
		}
	}
	return values
}

// Names returns the header names in wire order.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for _, pair := range h {
		if len(pair) >= 1 {
			names = append(names, pair[0])
		}
	}
	return names
}

// Add appends a header pair.
func (h *Headers) Add(name, value string) {
	*h = append(*h, []string{name, value})
}

// FromHTTP converts a net/http header map. Map iteration order is not
// stable, so callers that care about wire order should build Headers
// directly from the raw header list.
func FromHTTP(hdr http.Header) Headers {
	out := make(Headers, 0, len(hdr))
	for name, values := range hdr {
		for _, v := range values {
			out = append(out, []string{name, v})
		}
	}
	return out
}

// FromMap converts a name -> value map, as reported by the browser's
// instrumentation channel.
func FromMap(m map[string]string) Headers {
	out := make(Headers, 0, len(m))
	for name, v := range m {
		out = append(out, []string{name, v})
	}
	return out
}
