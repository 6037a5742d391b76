package routing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// object is a decoded JSON object that remembers member order.
type object struct {
	keys   []string
	fields map[string]json.RawMessage
}

// decodeObject decodes a JSON object, keeping its members in document order.
// A repeated key keeps its first position and its last value.
func decodeObject(data []byte) (*object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	obj := &object{fields: make(map[string]json.RawMessage)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", key, err)
		}
		if _, seen := obj.fields[key]; !seen {
			obj.keys = append(obj.keys, key)
		}
		obj.fields[key] = raw
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after object")
	}

	return obj, nil
}

// raw returns the member value, treating JSON null as absent.
func (o *object) raw(key string) (json.RawMessage, bool) {
	v, ok := o.fields[key]
	if !ok || jsonKind(v) == 'n' {
		return nil, false
	}
	return v, true
}

func (o *object) has(key string) bool {
	_, ok := o.raw(key)
	return ok
}

// str returns the member as a string when it is a JSON string.
func (o *object) str(key string) (string, bool) {
	v, ok := o.raw(key)
	if !ok || jsonKind(v) != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// child decodes the member as a nested object.
func (o *object) child(key string) (*object, bool) {
	v, ok := o.raw(key)
	if !ok || jsonKind(v) != '{' {
		return nil, false
	}
	child, err := decodeObject(v)
	if err != nil {
		return nil, false
	}
	return child, true
}

// number returns the member as a float64 when it is a number or a numeric string.
func (o *object) number(key string) *float64 {
	v, ok := o.raw(key)
	if !ok {
		return nil
	}
	var n optNumber
	_ = n.UnmarshalJSON(v)
	return n.ptr()
}

// jsonKind returns the first significant byte of a JSON value: one of
// '{', '[', '"', 'n' (null), 't'/'f' (bool), or a digit/'-' for numbers. Zero when empty.
func jsonKind(v []byte) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

// optNumber is a numeric field that may be absent, null, a number, or a numeric string.
// It never fails to decode; anything else leaves it unset.
type optNumber struct {
	set bool
	val float64
}

func (n *optNumber) UnmarshalJSON(data []byte) error {
	n.set = false
	switch jsonKind(data) {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		n.set, n.val = true, f
	case 'n', 't', 'f', '{', '[', 0:
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil
		}
		n.set, n.val = true, f
	}
	return nil
}

func (n optNumber) ptr() *float64 {
	if !n.set {
		return nil
	}
	v := n.val
	return &v
}
