// Package normalize holds the tolerant field readers shared by every
// provider adapter. Upstream APIs disagree on whether numbers arrive as JSON
// numbers or strings, so readers accept both and report ok=false instead of
// failing.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"marketfeed/internal/model"
)

// NormalizationError reports a payload that lacks the fields needed to build
// canonical records. Adapters return it together with an empty batch.
type NormalizationError struct {
	Provider string
	Category model.Category
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s/%s: %s", e.Provider, e.Category, e.Reason)
}

// Errorf builds a NormalizationError.
func Errorf(provider string, cat model.Category, format string, args ...any) *NormalizationError {
	return &NormalizationError{Provider: provider, Category: cat, Reason: fmt.Sprintf(format, args...)}
}

// Decode reads a JSON document keeping numbers as json.Number.
func Decode(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return v, nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(b []byte) (any, error) {
	return Decode(bytes.NewReader(b))
}

// Object asserts v is a JSON object.
func Object(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Array asserts v is a JSON array.
func Array(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

// Value returns the first non-nil value found under keys.
func Value(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Float converts a number or numeric string.
func Float(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		s := strings.TrimSpace(typed)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FloatField reads a float under any of keys; missing values read as 0.
func FloatField(m map[string]any, keys ...string) float64 {
	v, ok := Value(m, keys...)
	if !ok {
		return 0
	}
	f, _ := Float(v)
	return f
}

// Int converts a number or numeric string, truncating fractions.
func Int(v any) (int64, bool) {
	switch typed := v.(type) {
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return i, true
		}
	}
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// IntField reads an integer under any of keys; missing values read as 0.
func IntField(m map[string]any, keys ...string) int64 {
	v, ok := Value(m, keys...)
	if !ok {
		return 0
	}
	i, _ := Int(v)
	return i
}

// String converts strings and numbers to a trimmed string.
func String(v any) (string, bool) {
	switch typed := v.(type) {
	case string:
		s := strings.TrimSpace(typed)
		return s, s != ""
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	default:
		return "", false
	}
}

// StringField reads a string under any of keys; missing values read as "".
func StringField(m map[string]any, keys ...string) string {
	v, ok := Value(m, keys...)
	if !ok {
		return ""
	}
	s, _ := String(v)
	return s
}

// epochMillisThreshold separates second from millisecond epochs.
const epochMillisThreshold = 1e11

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time accepts epoch seconds or milliseconds (as numbers or strings) and
// common textual layouts. Results are UTC.
func Time(v any) (time.Time, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	f, ok := Float(v)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f >= epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// TimeField reads a timestamp under any of keys.
func TimeField(m map[string]any, keys ...string) (time.Time, bool) {
	v, ok := Value(m, keys...)
	if !ok {
		return time.Time{}, false
	}
	return Time(v)
}

// Symbol upper-cases and trims a ticker symbol.
func Symbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
