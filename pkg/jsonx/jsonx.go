// Package jsonx decodes JSON documents with exact number handling.
//
// Numbers are read as json.Number and then normalized: integral literals become
// int64, everything else float64. Objects and arrays are normalized recursively,
// so decoded payloads and stored records share one value representation.
package jsonx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Decode reads a single JSON value from r into v using json.Number for numbers.
// Trailing data after the value is an error.
func Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// DecodeObject decodes a JSON object and normalizes its values.
func DecodeObject(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := Decode(bytes.NewReader(data), &m); err != nil {
		return nil, err
	}
	return NormalizeMap(m), nil
}

// Normalize converts json.Number values (recursively) to int64 or float64.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		return Number(t)
	case map[string]any:
		return NormalizeMap(t)
	case []any:
		for i := range t {
			t[i] = Normalize(t[i])
		}
		return t
	default:
		return v
	}
}

// NormalizeMap normalizes every value of m in place and returns it.
func NormalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = Normalize(v)
	}
	return m
}

// Number converts a json.Number to int64 when it is an integral literal, else float64.
// Unparsable numbers are returned as their string form.
func Number(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return s
}
