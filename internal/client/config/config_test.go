package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http", c.ManifestTransport)
	assert.Equal(t, 3, c.DownloadConcurrency)
	assert.Equal(t, 30*time.Second, c.ResumeInterval)
	assert.Equal(t, "exact", c.MatchMode)
	assert.Equal(t, "sqlite", c.CheckpointBackend)
	assert.NoError(t, c.Validate())
}

func TestLoad_UsesDefaultsWithoutSources(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := load(nil)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, &want, cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no endpoint", func(c *Config) { c.ManifestEndpoint = "" }},
		{"bad transport", func(c *Config) { c.ManifestTransport = "smtp" }},
		{"zero concurrency", func(c *Config) { c.DownloadConcurrency = 0 }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"bad match mode", func(c *Config) { c.MatchMode = "fuzzy" }},
		{"redis without addr", func(c *Config) { c.CheckpointBackend = "redis" }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	var c Config
	c.LoadDefaults()
	c.CheckpointBackend = "redis"
	c.RedisAddr = "localhost:6379"
	assert.NoError(t, c.Validate())
}
