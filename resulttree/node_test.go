package resulttree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushConfigBinaryBlob(t *testing.T) {
	root := NewRoot()
	cfg := root.PushConfig(map[string]any{"type": "dropper"}, "dropper", []string{"family:demo"}, nil, nil)
	cfg.PushBinary([]byte("payload"), "drop.exe", []string{"dropped"}, nil, nil)
	root.PushBlob([]byte("raw html"), "landing", "html", nil, map[string]any{"source": "phish"}, nil)

	tree := root.ToMapRecursive()
	require.Equal(t, "object", tree["object"])
	children := tree["children"].([]map[string]any)
	require.Len(t, children, 2)

	configNode := children[0]
	assert.Equal(t, "config", configNode["object"])
	assert.Equal(t, "dropper", configNode["config_type"])
	grandchildren := configNode["children"].([]map[string]any)
	require.Len(t, grandchildren, 1)
	assert.Equal(t, "binary", grandchildren[0]["object"])
	assert.Equal(t, "cGF5bG9hZA==", grandchildren[0]["data"])

	blobNode := children[1]
	assert.Equal(t, "blob", blobNode["object"])
	assert.Equal(t, "raw html", blobNode["content"])
	assert.Equal(t, "html", blobNode["blob_type"])
}

func TestToMapDefaultsNilSlicesToEmpty(t *testing.T) {
	root := NewRoot()
	root.PushConfig(map[string]any{"x": 1}, "generic", nil, nil, nil)
	m := root.ToMapRecursive()
	children := m["children"].([]map[string]any)
	assert.Equal(t, []string{}, children[0]["tags"])
	assert.Equal(t, map[string]any{}, children[0]["attributes"])
}
