package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actiongate/internal/config"
)

func TestFromYAMLAppliesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
dispatch:
  executors:
    send_email:
      url: http://localhost:9100/execute
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Dispatch.TimeoutSeconds)
	assert.Equal(t, 10, cfg.Agents.TimeoutSeconds)
	assert.True(t, cfg.ExecutorEnabled("send_email"))
	assert.False(t, cfg.ExecutorEnabled("create_ticket"))
}

func TestFromYAMLValidates(t *testing.T) {
	_, err := config.FromYAML([]byte("dispatch:\n  timeout_seconds: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_seconds")

	_, err = config.FromYAML([]byte(`
dispatch:
  executors:
    send_email:
      url: ""
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no url")
}

func TestExecutorEnabledRespectsSwitch(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
dispatch:
  executors:
    create_ticket:
      url: http://localhost:9200/execute
      enabled: false
`))
	require.NoError(t, err)
	assert.False(t, cfg.ExecutorEnabled("create_ticket"))
}

func TestLoadOptionalMissingFileFallsBack(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Dispatch.TimeoutSeconds)
}

func TestGeneratedDefaultParses(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "actiongate.yml"), []byte(config.GenerateDefault()), 0o644))
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}
