package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"manifest_endpoint":    "zones.example:9000",
		"manifest_transport":   "grpc",
		"resume_interval":      "10s",
		"download_concurrency": 5,
		"grant_media_access":   true,
		"otlp_endpoint":        "collector:4318",
	})

	t.Run("loads from flags", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		require.NoError(t, parseJson(cfg, []string{"-config", pathFlag}))

		assert.Equal(t, "zones.example:9000", cfg.ManifestEndpoint)
		assert.Equal(t, "grpc", cfg.ManifestTransport)
		assert.Equal(t, 10*time.Second, cfg.ResumeInterval)
		assert.Equal(t, 5, cfg.DownloadConcurrency)
		assert.True(t, cfg.GrantMediaAccess)
		assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
		// Absent keys keep their previous value.
		assert.Equal(t, "exact", cfg.MatchMode)
	})

	t.Run("no flags → no changes", func(t *testing.T) {
		cfg := &Config{ManifestEndpoint: "defaults:1234", ResumeInterval: 42 * time.Second}
		require.NoError(t, parseJson(cfg, nil))

		assert.Equal(t, "defaults:1234", cfg.ManifestEndpoint)
		assert.Equal(t, 42*time.Second, cfg.ResumeInterval)
	})

	t.Run("invalid JSON → error", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		assert.Error(t, parseJson(&Config{}, []string{"-c", bad}))
	})

	t.Run("missing file → error", func(t *testing.T) {
		assert.Error(t, parseJson(&Config{}, []string{"-c", filepath.Join(dir, "nope.json")}))
	})
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
