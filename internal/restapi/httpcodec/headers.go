package httpcodec

import "strings"

// Headers is an ordered, case-sensitive map of header key to value. Order
// of insertion is preserved on serialization; duplicate keys are permitted
// on the wire but Get returns only the first match.
type Headers struct {
	keys   []string
	values []string
}

// Set appends a key/value pair, preserving any existing entries with the
// same key (the wire format allows duplicates; callers that want to
// overwrite should call Remove first).
func (h *Headers) Set(key, value string) {
	h.keys = append(h.keys, key)
	h.values = append(h.values, value)
}

// Get returns the value of the first entry matching key and whether it was
// found.
func (h *Headers) Get(key string) (string, bool) {
	for i, k := range h.keys {
		if k == key {
			return h.values[i], true
		}
	}
	return "", false
}

// Remove deletes every entry matching key.
func (h *Headers) Remove(key string) {
	keys := h.keys[:0]
	values := h.values[:0]
	for i, k := range h.keys {
		if k == key {
			continue
		}
		keys = append(keys, k)
		values = append(values, h.values[i])
	}
	h.keys = keys
	h.values = values
}

// Replace sets key to value, removing any prior entries for key first.
func (h *Headers) Replace(key, value string) {
	h.Remove(key)
	h.Set(key, value)
}

// Len returns the number of key/value pairs, including duplicates.
func (h *Headers) Len() int { return len(h.keys) }

// Each calls fn for every header in insertion order.
func (h *Headers) Each(fn func(key, value string)) {
	for i, k := range h.keys {
		fn(k, h.values[i])
	}
}

// Clone returns a deep copy of h.
func (h *Headers) Clone() *Headers {
	out := &Headers{
		keys:   append([]string(nil), h.keys...),
		values: append([]string(nil), h.values...),
	}
	return out
}

func trimHeaderValue(v string) string {
	return strings.TrimLeft(v, " \t")
}
