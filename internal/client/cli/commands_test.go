package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/zonemedia/internal/client/capture"
	"github.com/dmitrijs2005/zonemedia/internal/client/config"
	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/client/services"
	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"github.com/dmitrijs2005/zonemedia/internal/filex"
	"github.com/dmitrijs2005/zonemedia/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	result   *services.ZoneMedia
	err      error
	zones    []string
	lastZone *models.Zone
	synced   bool

	saveFail map[string]bool
	saved    []models.MediaItem
}

func (f *fakeMedia) GetZoneMedia(_ context.Context, zone *models.Zone, shouldSync bool) (*services.ZoneMedia, error) {
	f.lastZone, f.synced = zone, shouldSync
	return f.result, f.err
}

func (f *fakeMedia) SaveMedia(_ context.Context, items []models.MediaItem, zoneID string) (*models.Album, error) {
	var errs []error
	for _, it := range items {
		if f.saveFail[it.URI] {
			errs = append(errs, &services.ItemError{URI: it.URI, Err: errors.New("disk full")})
			continue
		}
		f.saved = append(f.saved, it)
	}
	if len(f.saved) == 0 {
		return nil, errors.Join(errs...)
	}
	return &models.Album{Name: models.AlbumName(zoneID), AssetCount: len(f.saved)}, errors.Join(errs...)
}

func (f *fakeMedia) CachedZones(context.Context) ([]string, error) { return f.zones, nil }
func (f *fakeMedia) Prune(context.Context) error                  { return nil }

type fakeDownloads struct {
	mu       sync.Mutex
	pending  []*models.Checkpoint
	active   []string
	progress map[string]float64
	resumed  []string
	paused   []string
	canceled []string
	err      error
}

func (f *fakeDownloads) Resume(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return "/dl/" + id + "/a.jpg", f.err
}

func (f *fakeDownloads) Pause(_ context.Context, id string) error {
	f.paused = append(f.paused, id)
	return f.err
}

func (f *fakeDownloads) Cancel(_ context.Context, id string) error {
	f.canceled = append(f.canceled, id)
	return f.err
}

func (f *fakeDownloads) Progress(_ context.Context, id string) float64 { return f.progress[id] }

func (f *fakeDownloads) Pending(context.Context) ([]*models.Checkpoint, error) {
	return f.pending, nil
}

func (f *fakeDownloads) Active() []string { return f.active }

func newTestApp(media *fakeMedia, dl *fakeDownloads, input string) *App {
	c := &config.Config{}
	c.LoadDefaults()
	return &App{
		config:    c,
		logger:    logging.Nop(),
		media:     media,
		downloads: dl,
		pending:   &capture.PendingList{},
		reader:    bufio.NewReader(strings.NewReader(input)),
		out:       io.Discard,
	}
}

func writeJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...), 0o600))
	return p
}

func TestExec_SyncPrintsItemsAndWarnings(t *testing.T) {
	out := captureOutput(t)
	media := &fakeMedia{result: &services.ZoneMedia{
		Items: []models.MediaItem{
			{Type: models.MediaTypeImage, URI: "file:///lib/1/a.jpg"},
			{Type: models.MediaTypeVideo, URI: "file:///lib/2/b.mp4"},
		},
		Warnings: []error{errx.New(errx.CodeDownloadFailed, "c.jpg")},
	}}
	a := newTestApp(media, &fakeDownloads{}, "")

	require.NoError(t, a.exec(context.Background(), []string{"sync", "z1", "u1"}))
	assert.Equal(t, &models.Zone{ID: "z1", MarkedBy: "u1"}, media.lastZone)
	assert.True(t, media.synced)

	s := out.String()
	assert.Contains(t, s, "image file:///lib/1/a.jpg")
	assert.Contains(t, s, "video file:///lib/2/b.mp4")
	assert.Contains(t, s, "Warning: media download failed: c.jpg")
	assert.Contains(t, s, "run sync again later")
	assert.Contains(t, s, "2 item(s) in zone z1")

	require.NoError(t, a.exec(context.Background(), []string{"list", "z1"}))
	assert.False(t, media.synced)
	assert.Empty(t, media.lastZone.MarkedBy)
}

func TestExec_ErrorsAndUsage(t *testing.T) {
	out := captureOutput(t)
	media := &fakeMedia{err: errx.New(errx.CodePermissionDenied, "media library access denied")}
	a := newTestApp(media, &fakeDownloads{}, "")
	ctx := context.Background()

	err := a.exec(ctx, []string{"sync", "z1"})
	assert.True(t, errx.Is(err, errx.CodePermissionDenied))
	assert.Contains(t, out.String(), "Error: access to the media library was denied")

	assert.ErrorIs(t, a.exec(ctx, []string{"sync"}), errUsage)
	assert.ErrorIs(t, a.exec(ctx, []string{"resume"}), errUsage)
	assert.ErrorIs(t, a.exec(ctx, []string{"save"}), errUsage)
	assert.ErrorIs(t, a.exec(ctx, []string{"nope"}), errUnknownCommand)
	assert.NoError(t, a.exec(ctx, nil))
	assert.NoError(t, a.exec(ctx, []string{"help"}))
	assert.Contains(t, out.String(), "Available commands")
}

func TestExec_Zones(t *testing.T) {
	out := captureOutput(t)
	a := newTestApp(&fakeMedia{}, &fakeDownloads{}, "")
	require.NoError(t, a.exec(context.Background(), []string{"zones"}))
	assert.Contains(t, out.String(), "No zones cached")

	a.media = &fakeMedia{zones: []string{"z1", "z2"}}
	require.NoError(t, a.exec(context.Background(), []string{"zones"}))
	assert.Contains(t, out.String(), "z1\nz2\n")
}

func TestExec_SaveKeepsFailedItemsPending(t *testing.T) {
	out := captureOutput(t)
	dir := t.TempDir()
	good := writeJPEG(t, dir, "good.jpg")
	bad := writeJPEG(t, dir, "bad.jpg")

	media := &fakeMedia{saveFail: map[string]bool{filex.FileURI(bad): true}}
	a := newTestApp(media, &fakeDownloads{}, "")
	ctx := context.Background()

	err := a.exec(ctx, []string{"save", "z1", good, bad})
	require.Error(t, err)
	assert.Equal(t, []models.MediaItem{{Type: models.MediaTypeImage, URI: filex.FileURI(good)}}, media.saved)
	assert.Equal(t, []models.MediaItem{{Type: models.MediaTypeImage, URI: filex.FileURI(bad)}}, a.pending.Items())
	assert.Contains(t, out.String(), "Saved 1 item(s) to album Zone-z1")

	// The retry sends only what is still pending.
	delete(media.saveFail, filex.FileURI(bad))
	require.NoError(t, a.exec(ctx, []string{"save", "z1"}))
	assert.Len(t, media.saved, 2)
	assert.Zero(t, a.pending.Len())

	require.NoError(t, a.exec(ctx, []string{"save", "z1"}))
	assert.Contains(t, out.String(), "Nothing to save")
}

func TestExec_AddReadsPathsInteractively(t *testing.T) {
	captureOutput(t)
	dir := t.TempDir()
	p := writeJPEG(t, dir, "a.jpg")

	a := newTestApp(&fakeMedia{}, &fakeDownloads{}, p+"\n\n")
	require.NoError(t, a.exec(context.Background(), []string{"add"}))
	assert.Equal(t, 1, a.pending.Len())

	err := a.exec(context.Background(), []string{"add", filepath.Join(dir, "missing.jpg")})
	assert.True(t, errx.Is(err, errx.CodeValidation))
	assert.Equal(t, 1, a.pending.Len())
}

func TestExec_DownloadCommands(t *testing.T) {
	out := captureOutput(t)
	dl := &fakeDownloads{
		pending: []*models.Checkpoint{
			{ID: "aaa", Filename: "a.jpg", Paused: true},
			{ID: "bbb", Filename: "b.mp4"},
			{ID: "ccc", Filename: "c.mp4"},
		},
		active:   []string{"ccc"},
		progress: map[string]float64{"aaa": 0.5, "ccc": 0.25},
	}
	a := newTestApp(&fakeMedia{}, dl, "")
	ctx := context.Background()

	require.NoError(t, a.exec(ctx, []string{"pending"}))
	s := out.String()
	assert.Contains(t, s, "aaa paused       50% a.jpg")
	assert.Contains(t, s, "bbb interrupted   0% b.mp4")
	assert.Contains(t, s, "ccc active       25% c.mp4")

	require.NoError(t, a.exec(ctx, []string{"resume", "bbb"}))
	assert.Contains(t, out.String(), "Downloaded /dl/bbb/a.jpg")
	require.NoError(t, a.exec(ctx, []string{"pause", "ccc"}))
	require.NoError(t, a.exec(ctx, []string{"cancel", "aaa"}))
	require.NoError(t, a.exec(ctx, []string{"progress", "aaa"}))
	assert.Contains(t, out.String(), "aaa 50%")

	assert.Equal(t, []string{"bbb"}, dl.resumed)
	assert.Equal(t, []string{"ccc"}, dl.paused)
	assert.Equal(t, []string{"aaa"}, dl.canceled)

	dl.err = errx.New(errx.CodeUnknownDownloadID, "no active download zzz")
	err := a.exec(ctx, []string{"pause", "zzz"})
	assert.True(t, errx.Is(err, errx.CodeUnknownDownloadID))
	assert.Contains(t, out.String(), "Error: download not found: no active download zzz")
}

func TestExec_PendingEmpty(t *testing.T) {
	out := captureOutput(t)
	a := newTestApp(&fakeMedia{}, &fakeDownloads{}, "")
	require.NoError(t, a.exec(context.Background(), []string{"pending"}))
	assert.Contains(t, out.String(), "No pending downloads")
}

func TestResumeStalled_SkipsPausedAndActive(t *testing.T) {
	dl := &fakeDownloads{
		pending: []*models.Checkpoint{
			{ID: "paused", Paused: true},
			{ID: "running"},
			{ID: "stale1"},
			{ID: "stale2"},
		},
		active: []string{"running"},
	}
	a := newTestApp(&fakeMedia{}, dl, "")
	a.resumeStalled(context.Background())

	assert.ElementsMatch(t, []string{"stale1", "stale2"}, dl.resumed)
}

func TestGetStatus(t *testing.T) {
	dl := &fakeDownloads{}
	a := newTestApp(&fakeMedia{}, dl, "")
	assert.Empty(t, a.getStatus())

	dl.active = []string{"x"}
	a.pending.Add(models.MediaItem{URI: "file:///a.jpg"})
	assert.Equal(t, "(1 active, 1 pending)", a.getStatus())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "boom", describe(errors.New("boom")))
	assert.Equal(t, "download paused", describe(errx.New(errx.CodePaused, "download paused")))
	assert.Equal(t, "invalid request: zone required", describe(errx.New(errx.CodeValidation, "zone required")))
}

func TestFailedURIs(t *testing.T) {
	assert.Nil(t, failedURIs(nil))
	single := &services.ItemError{URI: "file:///a.jpg", Err: errors.New("x")}
	assert.Equal(t, []string{"file:///a.jpg"}, failedURIs(single))

	joined := errors.Join(single, errors.New("other"), &services.ItemError{URI: "file:///b.jpg", Err: errors.New("y")})
	assert.Equal(t, []string{"file:///a.jpg", "file:///b.jpg"}, failedURIs(joined))
}
