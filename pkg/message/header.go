package message

import "strings"

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Names are compared
// without regard to ASCII case. The zero value is an empty header.
type Header struct {
	fields []Field
}

// NewHeader builds a header from alternating name, value pairs.
func NewHeader(kv ...string) Header {
	var h Header
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func (h *Header) index(name string) int {
	for i, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// Get returns the value of the first field named name, or "".
func (h *Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup is like Get but also reports whether the field is present.
func (h *Header) Lookup(name string) (string, bool) {
	if i := h.index(name); i >= 0 {
		return h.fields[i].Value, true
	}
	return "", false
}

// Values returns every value stored under name, in order.
func (h *Header) Values(name string) []string {
	var vv []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			vv = append(vv, f.Value)
		}
	}
	return vv
}

// Add appends a field, keeping any existing fields of the same name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces the first field named name and drops the rest, or
// appends a new field if there is none.
func (h *Header) Set(name, value string) {
	i := h.index(name)
	if i < 0 {
		h.Add(name, value)
		return
	}
	h.fields[i].Value = value
	h.delFrom(name, i+1)
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	h.delFrom(name, 0)
}

func (h *Header) delFrom(name string, start int) {
	kept := h.fields[:start]
	for _, f := range h.fields[start:] {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Len returns the number of fields.
func (h *Header) Len() int { return len(h.fields) }

// Fields returns a copy of the fields in stored order.
func (h *Header) Fields() []Field {
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}
