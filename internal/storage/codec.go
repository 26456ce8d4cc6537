package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EncodeEmbedding serializes an embedding as a JSON array.
func EncodeEmbedding(vec []float32) (string, error) {
	if vec == nil {
		vec = []float32{}
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return string(b), nil
}

// DecodeEmbedding parses a stored embedding. Besides a JSON array it accepts the shapes
// older writers produced: an object keyed by position ("0", "1", ...), a JSON string wrapping
// either form, and a bare comma-separated list.
func DecodeEmbedding(raw string) ([]float32, error) {
	return decodeEmbedding([]byte(strings.TrimSpace(raw)), 0)
}

func decodeEmbedding(data []byte, depth int) ([]float32, error) {
	if depth > 2 {
		return nil, fmt.Errorf("embedding nested too deeply")
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("embedding is empty")
	}

	switch data[0] {
	case '[':
		var vec []float32
		if err := json.Unmarshal(data, &vec); err != nil {
			return nil, fmt.Errorf("failed to decode embedding array: %w", err)
		}
		return vec, nil
	case '{':
		return decodeIndexedObject(data)
	case '"':
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode embedding string: %w", err)
		}
		return decodeEmbedding([]byte(inner), depth+1)
	default:
		return decodeCommaSeparated(string(data))
	}
}

func decodeIndexedObject(data []byte) ([]float32, error) {
	var obj map[string]float32
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode embedding object: %w", err)
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	type entry struct {
		pos int
		val float32
	}
	entries := make([]entry, 0, len(obj))
	for k, v := range obj {
		pos, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("embedding key %q is not a position", k)
		}
		entries = append(entries, entry{pos: pos, val: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })
	vec := make([]float32, len(entries))
	for i, e := range entries {
		vec[i] = e.val
	}
	return vec, nil
}

func decodeCommaSeparated(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedding component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
