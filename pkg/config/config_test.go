package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultValues(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2, cfg.Engine.InitialWorkers)
	assert.Equal(t, 0.8, cfg.Engine.ScaleThreshold)
	assert.Equal(t, 10, cfg.Gate.ConnectionsPerIP)
	assert.Equal(t, 5, cfg.Gate.ConnectionsPerUser)
	assert.Equal(t, 30, cfg.Gate.MessagesPerUser)
	assert.Equal(t, 60*time.Second, cfg.Gate.Window)
	assert.Equal(t, 30*time.Minute, cfg.Rooms.InactivityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Rooms.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.ViewerCount.FlushInterval)
	assert.Equal(t, int64(10000), cfg.Tips.MaxAmount)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  address: ":9000"
engine:
  initial_workers: 4
  max_workers: 16
rooms:
  max_participants: 100
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 4, cfg.Engine.InitialWorkers)
	assert.Equal(t, 100, cfg.Rooms.MaxParticipants)
	// Untouched values keep defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TIPCAST_SERVER_ADDRESS", ":7070")
	t.Setenv("TIPCAST_INITIAL_WORKERS", "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Engine.InitialWorkers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Engine.InitialWorkers = 0 }},
		{"max below initial", func(c *Config) { c.Engine.MaxWorkers = 1; c.Engine.InitialWorkers = 2 }},
		{"threshold above one", func(c *Config) { c.Engine.ScaleThreshold = 1.5 }},
		{"port overflow", func(c *Config) { c.Engine.BasePort = 65000; c.Engine.PortsPerWorker = 1000 }},
		{"zero room capacity", func(c *Config) { c.Rooms.MaxParticipants = 0 }},
		{"zero gate window", func(c *Config) { c.Gate.Window = 0 }},
		{"zero flush interval", func(c *Config) { c.ViewerCount.FlushInterval = 0 }},
		{"zero tip ceiling", func(c *Config) { c.Tips.MaxAmount = 0 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"pong not above ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
