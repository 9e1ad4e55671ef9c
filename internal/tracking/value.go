// SPDX-License-Identifier: AGPL-3.0-or-later

package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a single entry of a run's config or summary. It holds a JSON
// scalar (number, string, bool, null) or a nested structure. Numbers keep the
// textual form the tracking service sent.
type Value struct {
	raw any
}

// NewValue wraps a decoded JSON value. Go numeric types are accepted so that
// callers can build fields without a decode step.
func NewValue(raw any) Value {
	return Value{raw: raw}
}

// String renders the value as destination text. It never fails: nested
// structures are rendered as compact JSON, and anything that cannot be
// encoded falls back to its fmt representation.
func (v Value) String() string {
	switch x := v.raw.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v.raw); err != nil {
		return fmt.Sprint(v.raw)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// Float returns the numeric value. Strings and bools are not numbers.
func (v Value) Float() (float64, bool) {
	var f float64
	switch x := v.raw.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Fields is a run's config or summary map.
type Fields map[string]Value

// Lookup returns the value stored under key.
func (f Fields) Lookup(key string) (Value, bool) {
	if f == nil {
		return Value{}, false
	}
	v, ok := f[key]
	return v, ok
}

// Number returns the numeric value stored under key.
func (f Fields) Number(key string) (float64, bool) {
	v, ok := f.Lookup(key)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// FieldsOf wraps a plain map, mainly for tests and fixtures.
func FieldsOf(m map[string]any) Fields {
	out := make(Fields, len(m))
	for k, v := range m {
		out[k] = NewValue(v)
	}
	return out
}

// decodeFields parses a JSON object string as returned by the tracking
// service. An empty document yields empty fields.
func decodeFields(doc string) (map[string]any, error) {
	out := map[string]any{}
	if doc == "" || doc == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
