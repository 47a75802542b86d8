package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	require.True(t, cfg.OnlineMode)
	require.Equal(t, 25564, cfg.ServerPort)
	require.Equal(t, "0.0.0.0:25565", cfg.Bind)
	require.Equal(t, 256, cfg.CompressionThreshold)
	require.Equal(t, 20, cfg.MaxPlayers)
	require.Equal(t, 1024, cfg.EncryptionKeySize)
	require.Equal(t, 30*time.Second, cfg.IdleTimeout)
	require.False(t, cfg.CrossServerEnabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	data := []byte(`proxy:
  online-mode: false
  server-port: 9999
  bind: "127.0.0.1:7777"
  compression-threshold: -1
  cross-server: true
  idle-timeout-seconds: 10
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	require.False(t, cfg.OnlineMode)
	require.Equal(t, 9999, cfg.ServerPort)
	require.Equal(t, "127.0.0.1:7777", cfg.Bind)
	require.Equal(t, -1, cfg.CompressionThreshold)
	require.True(t, cfg.CrossServerEnabled)
	require.Equal(t, 10*time.Second, cfg.IdleTimeout)

	// keys the file omits keep their defaults
	require.Equal(t, 20, cfg.MaxPlayers)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}
