package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindRaw ValueKind = iota // any JSON the schema kinds do not cover, kept verbatim
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "raw"
	}
}

// Value is a single element property. It encodes to and from the plain JSON
// value (no wrapper object), so stored documents stay readable by any client.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	raw  json.RawMessage
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Raw(r json.RawMessage) Value {
	return Value{kind: KindRaw, raw: append(json.RawMessage(nil), r...)}
}

// ValueOf converts a decoded Go value into a Value.
func ValueOf(x any) Value {
	switch v := x.(type) {
	case Value:
		return v
	case string:
		return String(v)
	case bool:
		return Bool(v)
	case float64:
		return Number(v)
	case float32:
		return Number(float64(v))
	case int:
		return Number(float64(v))
	case int64:
		return Number(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return String(v.String())
		}
		return Number(f)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Raw(json.RawMessage("null"))
		}
		return Raw(data)
	}
}

// ParseValue interprets command-line text: booleans and finite numbers are
// typed, everything else (including "NaN" and "Inf") is a string.
func ParseValue(s string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "true" || trimmed == "false" {
		return Bool(trimmed == "true")
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && isFinite(f) {
		return Number(f)
	}
	return String(s)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Check rejects values that have no JSON form: NaN and the infinities.
func (v Value) Check() error {
	if v.kind == KindNumber && !isFinite(v.num) {
		return fmt.Errorf("number %v is not finite: %w", v.num, ErrValidation)
	}
	return nil
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) Num() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		if len(v.raw) == 0 {
			return "null"
		}
		return string(v.raw)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if err := v.Check(); err != nil {
			return nil, err
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty property value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{', '[', 'n':
		*v = Raw(trimmed)
	default:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return err
		}
		*v = Number(f)
	}
	return nil
}

// Properties is the open key/value bag attached to nodes and connections.
type Properties map[string]Value

// MarshalJSON never emits null: a missing bag is an empty object on the wire.
func (p Properties) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Value(p))
}

// Check reports every value of p that cannot be stored, keyed by name.
func (p Properties) Check() error {
	var errs []error
	for _, key := range slices.Sorted(maps.Keys(p)) {
		if err := p[key].Check(); err != nil {
			errs = append(errs, fmt.Errorf("property %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p with every key of patch written over it.
func (p Properties) Merge(patch Properties) Properties {
	out := make(Properties, len(p)+len(patch))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// PropertiesOf converts a decoded JSON object into Properties.
func PropertiesOf(m map[string]any) Properties {
	out := make(Properties, len(m))
	for k, v := range m {
		out[k] = ValueOf(v)
	}
	return out
}
