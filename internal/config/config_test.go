package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"server_address": ":8080"},
		"model": {"path": "models/bitnet.gguf", "executable": "bin/llama-cli"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "models/bitnet.gguf"), cfg.Model.Path)
	assert.Equal(t, filepath.Join(dir, "bin/llama-cli"), cfg.Model.Executable)
	assert.Equal(t, ":8080", cfg.BasicConfig.ServerAddress)
}

func TestLoadDefaultsExecutable(t *testing.T) {
	path := writeConfig(t, `{"model": {"path": "/models/bitnet.gguf"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), defaultExecutable), cfg.Model.Executable)
}

func TestLoadRequiresModelPath(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"server_address": ":8080"}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
