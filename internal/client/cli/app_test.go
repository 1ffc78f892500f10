package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/client/config"
	"github.com/dmitrijs2005/zonemedia/internal/client/eviction"
	"github.com/dmitrijs2005/zonemedia/internal/client/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 256)...)

func testConfig(t *testing.T, manifestURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{}
	c.LoadDefaults()
	c.ManifestEndpoint = manifestURL
	c.DatabasePath = filepath.Join(dir, "zonemedia.db")
	c.LibraryDir = filepath.Join(dir, "library")
	c.DownloadDir = filepath.Join(dir, "downloads")
	c.RequestTimeout = 5 * time.Second
	c.GrantMediaAccess = true
	c.UserID = "u1"
	c.LogLevel = "error"
	return c
}

func newMediaServers(t *testing.T) (manifest, media *httptest.Server) {
	t.Helper()
	media = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, filepath.Base(r.URL.Path), time.Time{}, bytes.NewReader(jpegBytes))
	}))
	t.Cleanup(media.Close)

	manifest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/z1" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintf(w, `[{"id":"z1","media":[
			{"url":"%[1]s/z1/a.jpg","mediaType":"image/jpeg"},
			{"url":"%[1]s/z1/voice.m4a","mediaType":"audio/mp4"}]}]`, media.URL)
	}))
	t.Cleanup(manifest.Close)
	return manifest, media
}

func TestApp_SyncThenListFromLocalLibrary(t *testing.T) {
	out := captureOutput(t)
	manifest, _ := newMediaServers(t)
	ctx := context.Background()

	app, err := NewApp(ctx, testConfig(t, manifest.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.NoError(t, app.exec(ctx, []string{"sync", "z1", "u1"}))
	assert.Contains(t, out.String(), "1 item(s) in zone z1")

	// Manifest gone: the cached copy is still served.
	manifest.Close()
	out.Reset()
	require.NoError(t, app.exec(ctx, []string{"list", "z1"}))
	assert.Contains(t, out.String(), "image file://")
	assert.Contains(t, out.String(), "/a.jpg")
	assert.Contains(t, out.String(), "1 item(s) in zone z1")

	require.NoError(t, app.exec(ctx, []string{"zones"}))
	assert.Contains(t, out.String(), "z1\n")

	rec := httptest.NewRecorder()
	app.metricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `zonemedia_downloads_total{result="completed"} 1`)
	assert.Contains(t, string(body), "zonemedia_reconciliations_total")
}

func TestApp_RunSingleCommandClosesResources(t *testing.T) {
	captureOutput(t)
	manifest, _ := newMediaServers(t)
	ctx := context.Background()

	app, err := NewApp(ctx, testConfig(t, manifest.URL))
	require.NoError(t, err)

	require.NoError(t, app.Run(ctx, []string{"zones"}))
	assert.Nil(t, app.closers)
	assert.ErrorIs(t, app.Run(ctx, []string{"bogus"}), errUnknownCommand)
}

func TestNewApp_InvalidDatabasePath(t *testing.T) {
	c := testConfig(t, "http://127.0.0.1:1")
	c.DatabasePath = filepath.Join(t.TempDir(), "missing", "dir", "zm.db")

	_, err := NewApp(context.Background(), c)
	assert.Error(t, err)
}

func TestApp_SessionSelection(t *testing.T) {
	a := &App{config: &config.Config{UserID: "u1"}}
	assert.Equal(t, session.Static("u1"), a.session())

	a.config.AccessToken = "tok"
	assert.IsType(t, &session.JWT{}, a.session())
}

func TestApp_EvictionPolicySelection(t *testing.T) {
	a := &App{config: &config.Config{}}
	p, err := a.evictionPolicy()
	require.NoError(t, err)
	assert.Equal(t, eviction.Noop{}, p)

	a.config.EvictMaxZones = 3
	p, err = a.evictionPolicy()
	require.NoError(t, err)
	assert.IsType(t, &eviction.LRU{}, p)
}

func TestApp_StartResumeWatcherStopsWithContext(t *testing.T) {
	dl := &fakeDownloads{}
	a := newTestApp(&fakeMedia{}, dl, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.StartResumeWatcher(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
