// Package parse turns a model transcript of "FIELD: value" lines into records.
package parse

import (
	"strings"

	"github.com/spherical/drawing-extractor/internal/domain"
)

// Fields is an ordered key -> value mapping in first-seen key order.
// Values follow last-wins semantics.
type Fields struct {
	keys   []string
	values map[string]string
}

// Get returns the value for an uppercased key.
func (f Fields) Get(key string) (string, bool) {
	v, ok := f.values[strings.ToUpper(key)]
	return v, ok
}

// Keys returns keys in first-seen order.
func (f Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of distinct keys.
func (f Fields) Len() int { return len(f.keys) }

// Parse splits a transcript into key/value pairs. Only the first colon on a
// line separates key from value, so "GEAR RATIO: 10:1" keeps "10:1". Lines
// without a colon and lines with an empty key are ignored. Parse never fails.
func Parse(transcript string) Fields {
	f := Fields{values: map[string]string{}}

	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}

		key := normalizeKey(line[:idx])
		if key == "" {
			continue
		}
		value := cleanValue(line[idx+1:])

		if _, seen := f.values[key]; !seen {
			f.keys = append(f.keys, key)
		}
		f.values[key] = value
	}
	return f
}

// ParseRecord parses transcript and projects it onto schema. Keys outside the
// schema are dropped and schema fields the model never emitted stay "".
func ParseRecord(transcript string, schema domain.FieldSchema) domain.ExtractionRecord {
	rec := domain.NewExtractionRecord(schema)
	fields := Parse(transcript)
	for _, k := range fields.keys {
		rec.Set(k, fields.values[k])
	}
	return rec
}

// Value returns the value of key in transcript, or "" when absent.
func Value(transcript, key string) string {
	v, _ := Parse(transcript).Get(key)
	return v
}

// normalizeKey uppercases a key and strips list bullets and markdown emphasis
// that models like to wrap around labels.
func normalizeKey(raw string) string {
	k := strings.TrimSpace(raw)
	for _, prefix := range []string{"- ", "* ", "• "} {
		k = strings.TrimPrefix(k, prefix)
	}
	k = strings.Trim(k, "*_` ")
	return strings.ToUpper(strings.TrimSpace(k))
}

func cleanValue(raw string) string {
	v := strings.TrimSpace(raw)
	if strings.HasPrefix(v, "**") {
		v = strings.TrimSpace(strings.TrimPrefix(v, "**"))
	}
	return v
}
