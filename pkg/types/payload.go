package types

import (
	"encoding/json"
	"strings"
)

// Payload is the open, string-keyed data attached to an event. Producers may
// add any keys; readers must go through the accessors, which report presence
// instead of assuming a key exists.
type Payload map[string]interface{}

// String returns the value for key when it is present and a non-empty string.
func (p Payload) String(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Number returns the value for key when it is present and numeric. Values
// decoded from JSON arrive as float64 or json.Number.
func (p Payload) Number(key string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Has reports whether key is present, regardless of its value.
func (p Payload) Has(key string) bool {
	if p == nil {
		return false
	}
	_, ok := p[key]
	return ok
}
