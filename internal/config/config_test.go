package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 200, cfg.Chat.Capacity)
	assert.Equal(t, 2*time.Second, cfg.Media.ExitGrace)
	assert.Equal(t, uint16(40000), cfg.Media.PortMin)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Media.ICEServers)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
mode: debug
port: 9000
chat:
  capacity: 50
media:
  announced_ip: 203.0.113.7
  port_min: 50000
  port_max: 50100
  exit_grace: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 50, cfg.Chat.Capacity)
	assert.Equal(t, "203.0.113.7", cfg.Media.AnnouncedIP)
	assert.Equal(t, uint16(50100), cfg.Media.PortMax)
	assert.Equal(t, 500*time.Millisecond, cfg.Media.ExitGrace)
}

func TestLoadFileRejectsInvertedPortRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("media:\n  port_min: 60000\n  port_max: 50000\n"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
