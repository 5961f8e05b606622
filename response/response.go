package response

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Record is one top-level {...} block of a firmware reply. Type keeps its
// parentheses, e.g. "(status)".
type Record struct {
	Type   string
	keys   []string
	values map[string]string
}

// Set stores value under key. A repeated key keeps its first position.
func (r *Record) Set(key, value string) {
	if r.values == nil {
		r.values = map[string]string{}
	}
	if _, seen := r.values[key]; !seen {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Keys returns the keys in reply order.
func (r Record) Keys() []string {
	return slices.Clone(r.keys)
}

// Fields returns a copy of the key/value pairs.
func (r Record) Fields() map[string]string {
	if r.values == nil {
		return map[string]string{}
	}
	return maps.Clone(r.values)
}

func (r Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

func (r Record) Text(key string) string {
	return r.values[key]
}

func (r Record) Float(key string) (float64, error) {
	v, ok := r.values[key]
	if !ok {
		return 0, fmt.Errorf("%s: missing key %q", r.Type, key)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: key %q: %w", r.Type, key, err)
	}
	return f, nil
}

// Int accepts decimal and 0x-prefixed values.
func (r Record) Int(key string) (int64, error) {
	v, ok := r.values[key]
	if !ok {
		return 0, fmt.Errorf("%s: missing key %q", r.Type, key)
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: key %q: %w", r.Type, key, err)
	}
	return i, nil
}

// Encode renders the record in the firmware's own framing.
func (r Record) Encode() string {
	var b strings.Builder
	b.WriteString("{{")
	b.WriteString(r.Type)
	b.WriteString("}")
	for _, k := range r.keys {
		b.WriteString("{")
		b.WriteString(k)
		b.WriteString(":")
		b.WriteString(r.values[k])
		b.WriteString("}")
	}
	b.WriteString("}")
	return b.String()
}

// Types lists the record types in order.
func Types(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Type)
	}
	return out
}

// Find returns the first record of the given type.
func Find(records []Record, typ string) (Record, bool) {
	for _, r := range records {
		if r.Type == typ {
			return r, true
		}
	}
	return Record{}, false
}
