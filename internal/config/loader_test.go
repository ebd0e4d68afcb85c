package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Vector.Backend, cfg.Vector.Backend)
	assert.Equal(t, Default().Embedder.BatchSize, cfg.Embedder.BatchSize)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vector:
  backend: qdrant
  dimension: 768
embedder:
  batch_size: 64
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", cfg.Vector.Backend)
	assert.Equal(t, 768, cfg.Vector.Dimension)
	assert.Equal(t, 64, cfg.Embedder.BatchSize)
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vector:\n  backend: postgres\n"), 0o644))

	t.Setenv("KB_VECTOR_BACKEND", "qdrant")
	t.Setenv("KB_REDIS_ENABLED", "true")
	t.Setenv("KB_REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", cfg.Vector.Backend)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestBlankEnvValueDoesNotOverride(t *testing.T) {
	t.Setenv("KB_SERVER_HOST", "   ")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Host, cfg.Server.Host)
}

func TestS3CredentialsFallBackToAWSEnv(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA-from-aws-env")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "AKIA-from-aws-env", cfg.ObjectStore.AccessKey)
}
