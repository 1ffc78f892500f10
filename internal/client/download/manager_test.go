package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/client/client"
	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/client/repositories/kv"
	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"github.com/dmitrijs2005/zonemedia/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]byte{}
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func newTestManager(t *testing.T, store kv.Repository, dir string) *Manager {
	t.Helper()
	m, err := NewManager(NewHTTPFetcher(time.Second), NewCheckpointStore(store), Options{
		Dir:          dir,
		Retries:      2,
		RetryBackoff: time.Millisecond,
	}, logging.Nop(), nil)
	require.NoError(t, err)
	return m
}

// stallingServer sends the first cut bytes of content for a request without a
// Range header and then holds the connection open. Ranged requests are served
// in full by http.ServeContent.
type stallingServer struct {
	*httptest.Server
	mu     sync.Mutex
	ranges []string
}

func newStallingServer(t *testing.T, content []byte, cut int) *stallingServer {
	t.Helper()
	s := &stallingServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		s.mu.Lock()
		s.ranges = append(s.ranges, rng)
		s.mu.Unlock()

		if rng != "" {
			http.ServeContent(w, r, "clip.mp4", time.Time{}, bytes.NewReader(content))
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content[:cut])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stallingServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func TestManager_PauseThenResumeContinuesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	content := testContent(100_000)
	const cut = 40_000
	srv := newStallingServer(t, content, cut)

	store := newMemKV()
	dir := t.TempDir()
	m := newTestManager(t, store, dir)

	source := srv.URL + "/zones/z1/clip.mp4"
	id := Key{Source: source, Filename: "clip.mp4"}.ID()

	startErr := make(chan error, 1)
	go func() {
		_, _, err := m.Start(ctx, source, "clip.mp4")
		startErr <- err
	}()

	want := float64(cut) / float64(len(content))
	require.Eventually(t, func() bool { return m.Progress(ctx, id) >= want }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Pause(ctx, id))
	err := <-startErr
	require.Error(t, err)
	assert.True(t, errx.Is(err, errx.CodePaused), "got %v", err)

	cp, err := NewCheckpointStore(store).Load(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(cut), cp.TotalBytesWritten)
	assert.Equal(t, int64(len(content)), cp.BytesExpected)
	assert.True(t, cp.Paused)
	assert.Equal(t, source, cp.Source)
	assert.Empty(t, m.Active())

	// A fresh manager over the same store stands in for a restarted process.
	m2 := newTestManager(t, store, dir)
	assert.InDelta(t, want, m2.Progress(ctx, id), 1e-9)

	path, err := m2.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m2.dir, id, "clip.mp4"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	ranges := srv.Ranges()
	require.Len(t, ranges, 2)
	assert.Equal(t, "", ranges[0])
	assert.Equal(t, "bytes="+strconv.Itoa(cut)+"-", ranges[1])

	cp, err = NewCheckpointStore(store).Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.Equal(t, 1.0, m2.Progress(ctx, id))
	assert.NoFileExists(t, filepath.Join(m2.dir, id+".part"))
}

func TestManager_CancelDiscardsState(t *testing.T) {
	ctx := context.Background()
	content := testContent(50_000)
	srv := newStallingServer(t, content, 10_000)

	store := newMemKV()
	m := newTestManager(t, store, t.TempDir())
	source := srv.URL + "/a.jpg"
	id := Key{Source: source, Filename: "a.jpg"}.ID()

	startErr := make(chan error, 1)
	go func() {
		_, _, err := m.Start(ctx, source, "a.jpg")
		startErr <- err
	}()
	require.Eventually(t, func() bool { return m.Progress(ctx, id) > 0 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel(ctx, id))
	err := <-startErr
	assert.True(t, errx.Is(err, errx.CodeCanceled), "got %v", err)

	cp, err := NewCheckpointStore(store).Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.NoFileExists(t, filepath.Join(m.dir, id+".part"))
	assert.Equal(t, 0.0, m.Progress(ctx, id))
}

func TestManager_CancelPersistedCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newMemKV()
	m := newTestManager(t, store, t.TempDir())

	key := Key{Source: "https://media.example/a.jpg", Filename: "a.jpg"}
	require.NoError(t, NewCheckpointStore(store).Save(ctx, &models.Checkpoint{
		ID: key.ID(), Source: key.Source, Filename: key.Filename, TotalBytesWritten: 3,
	}))
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, key.ID()+".part"), []byte("abc"), 0o600))

	require.NoError(t, m.Cancel(ctx, key.ID()))
	assert.NoFileExists(t, filepath.Join(m.dir, key.ID()+".part"))
	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManager_UnknownIDs(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemKV(), t.TempDir())
	id := Key{Source: "https://x/y.jpg", Filename: "y.jpg"}.ID()

	err := m.Pause(ctx, id)
	assert.True(t, errx.Is(err, errx.CodeUnknownDownloadID), "pause: %v", err)

	_, err = m.Resume(ctx, id)
	assert.True(t, errx.Is(err, errx.CodeUnknownDownloadID), "resume: %v", err)

	err = m.Cancel(ctx, id)
	assert.True(t, errx.Is(err, errx.CodeUnknownDownloadID), "cancel: %v", err)

	assert.Equal(t, 0.0, m.Progress(ctx, id))
}

func TestManager_StartValidatesKey(t *testing.T) {
	m := newTestManager(t, newMemKV(), t.TempDir())

	_, _, err := m.Start(context.Background(), "", "a.jpg")
	assert.True(t, errx.Is(err, errx.CodeValidation))

	_, _, err = m.Start(context.Background(), "https://x/a.jpg", "../a.jpg")
	assert.True(t, errx.Is(err, errx.CodeValidation))
}

func TestManager_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store := newMemKV()
	m := newTestManager(t, store, t.TempDir())

	_, _, err := m.Start(context.Background(), srv.URL+"/gone.jpg", "gone.jpg")
	require.Error(t, err)
	assert.True(t, errx.Is(err, errx.CodeDownloadFailed))
	assert.False(t, errx.IsRetryable(err))
	assert.Equal(t, int32(1), hits.Load())

	pending, err := m.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManager_RetriesServerErrors(t *testing.T) {
	content := testContent(2048)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.ServeContent(w, r, "b.jpg", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	m := newTestManager(t, newMemKV(), t.TempDir())
	_, path, err := m.Start(context.Background(), srv.URL+"/b.jpg", "b.jpg")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestManager_ServerIgnoringRangeRestarts(t *testing.T) {
	ctx := context.Background()
	content := testContent(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	store := newMemKV()
	m := newTestManager(t, store, t.TempDir())
	key := Key{Source: srv.URL + "/c.jpg", Filename: "c.jpg"}

	require.NoError(t, NewCheckpointStore(store).Save(ctx, &models.Checkpoint{
		ID: key.ID(), Source: key.Source, Filename: key.Filename,
		TotalBytesWritten: 1000, BytesExpected: 4096,
	}))
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, key.ID()+".part"), content[:1000], 0o600))

	path, err := m.Resume(ctx, key.ID())
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestManager_ShortPartFileResumesFromDisk(t *testing.T) {
	ctx := context.Background()
	content := testContent(4096)
	var lastRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastRange.Store(r.Header.Get("Range"))
		http.ServeContent(w, r, "d.jpg", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	store := newMemKV()
	m := newTestManager(t, store, t.TempDir())
	key := Key{Source: srv.URL + "/d.jpg", Filename: "d.jpg"}

	// The checkpoint claims more than reached the disk.
	require.NoError(t, NewCheckpointStore(store).Save(ctx, &models.Checkpoint{
		ID: key.ID(), Source: key.Source, Filename: key.Filename, TotalBytesWritten: 3000,
	}))
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, key.ID()+".part"), content[:512], 0o600))

	path, err := m.Resume(ctx, key.ID())
	require.NoError(t, err)
	assert.Equal(t, "bytes=512-", lastRange.Load())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestManager_ConcurrentStartJoinsActiveTransfer(t *testing.T) {
	content := testContent(8192)
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		http.ServeContent(w, r, "e.mp4", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	m := newTestManager(t, newMemKV(), t.TempDir())
	source := srv.URL + "/e.mp4"
	id := Key{Source: source, Filename: "e.mp4"}.ID()

	type result struct {
		path string
		err  error
	}
	results := make(chan result, 2)
	start := func() {
		_, path, err := m.Start(context.Background(), source, "e.mp4")
		results <- result{path, err}
	}

	go start()
	require.Eventually(t, func() bool { return len(m.Active()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []string{id}, m.Active())
	go start()
	time.Sleep(20 * time.Millisecond)
	close(release)

	r1, r2 := <-results, <-results
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, r1.path, r2.path)
	assert.Equal(t, int32(1), hits.Load())
}

func TestManager_ReleaseRemovesDownloadDir(t *testing.T) {
	content := testContent(128)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f.jpg", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	m := newTestManager(t, newMemKV(), t.TempDir())
	id, path, err := m.Start(context.Background(), srv.URL+"/f.jpg", "f.jpg")
	require.NoError(t, err)
	require.FileExists(t, path)

	m.Release(id)
	assert.NoDirExists(t, filepath.Dir(path))

	// Non-ids never touch the filesystem.
	m.Release("..")
	assert.DirExists(t, m.dir)
}

func TestManager_SQLiteCheckpointsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	db, err := client.InitDatabase(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	content := testContent(60_000)
	srv := newStallingServer(t, content, 20_000)
	repo := kv.NewSQLiteRepository(db, kv.TableCheckpoints)
	dir := t.TempDir()

	m := newTestManager(t, repo, dir)
	source := srv.URL + "/g.mp4"
	id := Key{Source: source, Filename: "g.mp4"}.ID()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = m.Start(ctx, source, "g.mp4")
	}()
	require.Eventually(t, func() bool { return m.Progress(ctx, id) >= 0.33 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Pause(ctx, id))
	<-done

	m2 := newTestManager(t, repo, dir)
	pending, err := m2.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.True(t, pending[0].Paused)

	path, err := m2.Resume(ctx, id)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestManager_StartAdoptsUnclaimedCompletedFile(t *testing.T) {
	content := testContent(4096)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.ServeContent(w, r, "c.jpg", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	m := newTestManager(t, newMemKV(), t.TempDir())
	id, first, err := m.Start(context.Background(), srv.URL+"/c.jpg", "c.jpg")
	require.NoError(t, err)

	again, second, err := m.Start(context.Background(), srv.URL+"/c.jpg", "c.jpg")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
	assert.InDelta(t, 1.0, m.Progress(context.Background(), id), 1e-9)
}
