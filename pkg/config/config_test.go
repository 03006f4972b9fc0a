package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tion-home/tionctl/pkg/tion"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tionctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "tionctl.db", cfg.DBPath)
	assert.Equal(t, 10*time.Second, cfg.CacheTTL)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 8, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Retry.RetryOnReconnect)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
cache_ttl: 30s
retry:
  base_delay: 2s
  max_attempts: 3
devices:
  - address: "AA:BB:CC:DD:EE:FF"
    name: bedroom
    model: s4
  - address: "11:22:33:44:55:66"
    name: hallway
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "s4", cfg.Devices[0].Model)
	assert.Equal(t, "s3", cfg.Devices[1].Model, "model defaults to s3")

	ids, err := cfg.Identities()
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, tion.ModelS4, ids[0].Model)
	assert.Equal(t, "bedroom", ids[0].Name)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 2*time.Second, policy.BaseDelay)
	assert.Equal(t, 3, policy.MaxAttempts)
}

func TestLoadRejectsDeviceWithoutAddress(t *testing.T) {
	path := writeConfig(t, `
devices:
  - name: nameless
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no address")
}

func TestLoadRejectsUnknownModel(t *testing.T) {
	path := writeConfig(t, `
devices:
  - address: "AA:BB:CC:DD:EE:FF"
    model: o2
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, "warning", logger.GetLevel().String())

	formatter, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, formatter.FullTimestamp)

	cfg.LogLevel = "shouting"
	_, err = cfg.NewLogger()
	require.Error(t, err)
}
