package common

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseJSON cleans and unmarshals a JSON document into a type T.
// It tolerates a UTF-8 byte order mark and surrounding whitespace, which
// files exported by desktop editors commonly carry.
func ParseJSON[T any](data []byte) (T, error) {
	var zero T
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(trimmed) == 0 {
		return zero, fmt.Errorf("empty JSON document")
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return zero, fmt.Errorf("no JSON object found (starts with %q)", trimmed[0])
	}

	var result T
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// Deref returns the pointed-to value or fallback when p is nil.
func Deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
