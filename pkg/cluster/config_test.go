package cluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTopology = `nodes:
  - id: node-1
    url: http://127.0.0.1:8081
  - id: node-2
    url: http://127.0.0.1:8082
  - id: node-3
    url: http://127.0.0.1:8083
`

func writeTopology(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTopology(t, sampleTopology), "node-2")
	require.NoError(t, err)

	assert.Equal(t, "node-2", cfg.Self)
	assert.Equal(t, 3, cfg.Size())
	assert.Equal(t, []string{"node-1", "node-3"}, cfg.Peers())
	assert.Equal(t, "http://127.0.0.1:8083", cfg.URL("node-3"))
	assert.Equal(t, "", cfg.URL("nope"))
}

func TestLoadUnknownSelf(t *testing.T) {
	_, err := Load(writeTopology(t, sampleTopology), "node-9")
	assert.Error(t, err)
}

func TestLoadWithoutSelf(t *testing.T) {
	// The bench command loads the topology without binding an identity.
	cfg, err := Load(writeTopology(t, sampleTopology), "")
	require.NoError(t, err)
	assert.Len(t, cfg.URLs(), 3)
}

func TestValidateDuplicateID(t *testing.T) {
	_, err := Load(writeTopology(t, `nodes:
  - id: a
    url: http://x
  - id: a
    url: http://y
`), "a")
	assert.Error(t, err)
}

func TestValidateMissingURL(t *testing.T) {
	_, err := Load(writeTopology(t, `nodes:
  - id: a
    url: ""
`), "a")
	assert.Error(t, err)
}

func TestValidateEmpty(t *testing.T) {
	_, err := Load(writeTopology(t, `nodes: []`), "a")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "a")
	assert.Error(t, err)
}
