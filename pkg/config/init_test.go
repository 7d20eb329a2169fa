package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, section := range []string{"# gorods configuration file", "logging:", "transfer:", "throttle_message_threshold: 25", "part_size: 32Mi", "transport:"} {
		assert.Contains(t, string(content), section)
	}

	_, err = InitConfig(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = InitConfig(true)
	assert.NoError(t, err)
}

func TestInitConfigToPath_IsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "gorods.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestWriteConfig_Force(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	cfg := GetDefaultConfig()
	cfg.Transfer.MaxParallelThreads = 12

	require.Error(t, WriteConfig(cfg, path, false))
	require.NoError(t, WriteConfig(cfg, path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Transfer.MaxParallelThreads)
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "gorods configuration", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"logging", "telemetry", "metrics", "transfer", "account", "transport"} {
		assert.Contains(t, props, key)
	}

	transfer := props["transfer"].(map[string]any)["properties"].(map[string]any)
	assert.Contains(t, transfer, "max_parallel_threads")
	assert.Contains(t, transfer["part_size"], "oneOf")
}
