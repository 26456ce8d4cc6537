package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEmbedding(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []float32
	}{
		{"array", `[0.5, -1, 2]`, []float32{0.5, -1, 2}},
		{"indexed object", `{"2": 3, "0": 1, "1": 2}`, []float32{1, 2, 3}},
		{"indexed object past ten", `{"10": 11, "9": 10, "0": 1, "1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9}`,
			[]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}},
		{"string wrapping array", `"[1,2,3]"`, []float32{1, 2, 3}},
		{"string wrapping csv", `"1, 2, 3"`, []float32{1, 2, 3}},
		{"bare csv", `0.25,0.5`, []float32{0.25, 0.5}},
		{"surrounding whitespace", "  [1]\n", []float32{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEmbedding(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEmbedding_Invalid(t *testing.T) {
	for _, raw := range []string{"", "null", "{}", `{"a": 1}`, "abc", `[1, "x"]`, `"\"\"[1]\"\""`} {
		_, err := DecodeEmbedding(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestEncodeEmbedding(t *testing.T) {
	s, err := EncodeEmbedding([]float32{1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, "[1,0.5]", s)

	back, err := DecodeEmbedding(s)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5}, back)

	empty, err := EncodeEmbedding(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}
