package dhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashIsKeyOrderInsensitive(t *testing.T) {
	a := map[string]any{"b": 1.0, "a": 2.0}
	b := map[string]any{"a": 2.0, "b": 1.0}
	assert.Equal(t, Hash(a), Hash(b))
}

func TestHashIsListOrderInsensitive(t *testing.T) {
	a := map[string]any{"servers": []any{"x", "y"}}
	b := map[string]any{"servers": []any{"y", "x"}}
	assert.Equal(t, Hash(a), Hash(b))
}

func TestHashDiffersOnContentChange(t *testing.T) {
	a := map[string]any{"c2": "a.example.com"}
	b := map[string]any{"c2": "b.example.com"}
	assert.NotEqual(t, Hash(a), Hash(b))
}

func TestHashDiffersOnNesting(t *testing.T) {
	flat := map[string]any{"a": 1.0, "b": 2.0}
	nested := map[string]any{"a": map[string]any{"b": 2.0}}
	assert.NotEqual(t, Hash(flat), Hash(nested))
}

func TestHashStableAcrossCalls(t *testing.T) {
	cfg := map[string]any{"x": []any{1.0, 2.0, 3.0}, "y": "z"}
	h1 := Hash(cfg)
	h2 := Hash(cfg)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
