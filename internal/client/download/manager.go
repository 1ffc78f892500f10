// Package download implements the resumable download manager.
//
// A Manager drives byte-level transfers of remote resources into a local
// download directory. Each transfer is identified by a Key (source URL plus
// target filename) and its derived id. Progress is checkpointed to a durable
// kv store while bytes arrive, so a transfer interrupted by Pause, a network
// failure, or a process restart continues from the last checkpointed byte
// instead of starting over. The in-memory registry of live transfers is not
// durable; it is rebuilt lazily by Start and Resume.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/common"
	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"github.com/dmitrijs2005/zonemedia/internal/filex"
	"github.com/dmitrijs2005/zonemedia/internal/logging"
	"github.com/dmitrijs2005/zonemedia/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("zonemedia-download")

var (
	errPaused   = errors.New("download paused")
	errCanceled = errors.New("download canceled")
)

const (
	chunkSize           = 32 << 10
	defaultRetryBackoff = 500 * time.Millisecond
)

// Options tune a Manager.
type Options struct {
	// Dir receives partial and completed files.
	Dir string
	// BytesPerSecond caps the combined throughput of all transfers; 0
	// disables the limit.
	BytesPerSecond int
	// ProgressInterval is the minimum time between checkpoint writes while
	// bytes arrive; 0 persists after every chunk.
	ProgressInterval time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

type transfer struct {
	key    Key
	cancel context.CancelCauseFunc
	done   chan struct{}

	// progress is guarded by Manager.mu.
	progress float64

	// path and err are written once, before done is closed.
	path string
	err  error
}

type Manager struct {
	fetcher     Fetcher
	checkpoints *CheckpointStore
	dir         string
	limiter     *rate.Limiter
	opts        Options
	logger      logging.Logger
	metrics     *metrics.MediaMetrics
	now         func() time.Time

	mu        sync.Mutex
	transfers map[string]*transfer
	progress  map[string]float64
}

func NewManager(fetcher Fetcher, checkpoints *CheckpointStore, opts Options, logger logging.Logger, m *metrics.MediaMetrics) (*Manager, error) {
	dir, err := filex.EnsureDir(opts.Dir)
	if err != nil {
		return nil, errx.Wrap(errx.CodeLocalStoreFailed, err, "prepare download dir")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	var limiter *rate.Limiter
	if opts.BytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSecond), max(opts.BytesPerSecond, chunkSize))
	}

	return &Manager{
		fetcher:     fetcher,
		checkpoints: checkpoints,
		dir:         dir,
		limiter:     limiter,
		opts:        opts,
		logger:      logger.With("component", "download"),
		metrics:     m,
		now:         time.Now,
		transfers:   make(map[string]*transfer),
		progress:    make(map[string]float64),
	}, nil
}

// Start downloads source into the download directory under filename and
// returns the download id and the local path of the completed file. A
// checkpoint left by an earlier session is honored. Calling Start for a
// pair that is already transferring waits for that transfer instead of
// starting a second one.
func (m *Manager) Start(ctx context.Context, source, filename string) (string, string, error) {
	key := Key{Source: source, Filename: filename}
	if err := key.Validate(); err != nil {
		return "", "", err
	}
	id := key.ID()

	t, runCtx, owner := m.register(ctx, id, key)
	if !owner {
		m.logger.Debug(ctx, "joining active download", "download_id", id)
		path, err := m.wait(ctx, t)
		return id, path, err
	}

	path, err := m.run(runCtx, id, t)
	m.finish(id, t, path, err)
	return id, path, err
}

// Pause interrupts an active transfer and persists its checkpoint. It
// returns once the checkpoint is written.
func (m *Manager) Pause(ctx context.Context, id string) error {
	t := m.active(id)
	if t == nil {
		m.logger.Error(ctx, "pause: unknown download id", "download_id", id)
		return errx.New(errx.CodeUnknownDownloadID, "no active download "+id)
	}
	t.cancel(errPaused)
	_, err := m.wait(ctx, t)
	if errx.Is(err, errx.CodeCanceled) && ctx.Err() != nil {
		return err
	}
	return nil
}

// Resume restarts a transfer from its persisted checkpoint. Source and
// filename come from the checkpoint itself.
func (m *Manager) Resume(ctx context.Context, id string) (string, error) {
	if t := m.active(id); t != nil {
		return m.wait(ctx, t)
	}

	cp, err := m.checkpoints.Load(ctx, id)
	if err != nil {
		return "", errx.Wrap(errx.CodeLocalStoreFailed, err, "load checkpoint")
	}
	if cp == nil {
		m.logger.Error(ctx, "resume: no checkpoint", "download_id", id)
		return "", errx.New(errx.CodeUnknownDownloadID, "no checkpoint for "+id)
	}
	if got := (Key{Source: cp.Source, Filename: cp.Filename}).ID(); got != id {
		m.logger.Error(ctx, "resume: checkpoint does not match id", "download_id", id, "checkpoint_id", got)
		return "", errx.New(errx.CodeLocalStoreFailed, "corrupt checkpoint "+id).WithRetryable(false)
	}

	_, path, err := m.Start(ctx, cp.Source, cp.Filename)
	return path, err
}

// Cancel stops an active transfer, or forgets a persisted one, deleting its
// checkpoint and partial file.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if t := m.active(id); t != nil {
		t.cancel(errCanceled)
		_, _ = m.wait(ctx, t)
		return nil
	}

	cp, err := m.checkpoints.Load(ctx, id)
	if err != nil {
		return errx.Wrap(errx.CodeLocalStoreFailed, err, "load checkpoint")
	}
	if cp == nil {
		m.logger.Error(ctx, "cancel: unknown download id", "download_id", id)
		return errx.New(errx.CodeUnknownDownloadID, "no download "+id)
	}
	m.discardState(ctx, id)
	return nil
}

// Progress returns the last known progress in [0, 1], or 0 when unknown.
func (m *Manager) Progress(ctx context.Context, id string) float64 {
	m.mu.Lock()
	if t, ok := m.transfers[id]; ok {
		p := t.progress
		m.mu.Unlock()
		return p
	}
	p, ok := m.progress[id]
	m.mu.Unlock()
	if ok {
		return p
	}

	cp, err := m.checkpoints.Load(ctx, id)
	if err != nil || cp == nil {
		return 0
	}
	return clamp01(cp.Progress)
}

// Pending lists persisted checkpoints, i.e. transfers that were paused,
// failed, or cut short by a process exit.
func (m *Manager) Pending(ctx context.Context) ([]*models.Checkpoint, error) {
	list, broken, err := m.checkpoints.List(ctx)
	if err != nil {
		return nil, errx.Wrap(errx.CodeLocalStoreFailed, err, "list checkpoints")
	}
	for _, id := range broken {
		m.logger.Warn(ctx, "skipping unreadable checkpoint", "download_id", id)
	}
	return list, nil
}

// Active returns the ids of transfers running in this process.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.transfers))
	for id := range m.transfers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Release removes what is left of a completed download's directory once the
// caller has moved the file away.
func (m *Manager) Release(id string) {
	if !IsID(id) {
		return
	}
	_ = os.RemoveAll(filepath.Join(m.dir, id))
}

func (m *Manager) active(id string) *transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers[id]
}

func (m *Manager) register(ctx context.Context, id string, key Key) (*transfer, context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.transfers[id]; ok {
		return t, nil, false
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	t := &transfer{key: key, cancel: cancel, done: make(chan struct{})}
	m.transfers[id] = t
	return t, runCtx, true
}

func (m *Manager) finish(id string, t *transfer, path string, err error) {
	m.mu.Lock()
	delete(m.transfers, id)
	m.progress[id] = t.progress
	t.path, t.err = path, err
	m.mu.Unlock()

	t.cancel(nil)
	close(t.done)
}

func (m *Manager) wait(ctx context.Context, t *transfer) (string, error) {
	select {
	case <-t.done:
		return t.path, t.err
	case <-ctx.Done():
		return "", errx.Wrap(errx.CodeCanceled, ctx.Err(), "wait for download")
	}
}

func (m *Manager) partPath(id string) string {
	return filepath.Join(m.dir, id+common.PartSuffix)
}

func (m *Manager) finalPath(id, filename string) string {
	return filepath.Join(m.dir, id, filename)
}

func (m *Manager) run(ctx context.Context, id string, t *transfer) (path string, err error) {
	ctx, span := tracer.Start(ctx, "download.run",
		trace.WithAttributes(
			attribute.String("download_id", id),
			attribute.String("filename", t.key.Filename),
		),
	)
	started := m.now()
	defer func() {
		m.metrics.ObserveDownload(resultOf(err), m.now().Sub(started))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	cp, err := m.checkpoints.Load(ctx, id)
	if err != nil {
		return "", errx.Wrap(errx.CodeLocalStoreFailed, err, "load checkpoint")
	}
	if cp == nil {
		// A transfer finished by an earlier Resume whose file nobody claimed yet.
		final := m.finalPath(id, t.key.Filename)
		if fi, serr := os.Stat(final); serr == nil && fi.Mode().IsRegular() {
			m.mu.Lock()
			t.progress = 1
			m.mu.Unlock()
			m.logger.Debug(ctx, "download already completed", "download_id", id)
			return final, nil
		}
		cp = &models.Checkpoint{ID: id, Source: t.key.Source, Filename: t.key.Filename}
	}
	cp.Paused = false

	f, offset, err := openPart(m.partPath(id), cp.TotalBytesWritten)
	if err != nil {
		return "", errx.Wrap(errx.CodeLocalStoreFailed, err, "open part file")
	}
	if offset > 0 {
		m.logger.Info(ctx, "resuming download", "download_id", id, "offset", offset)
	}
	cp.TotalBytesWritten = offset
	m.setProgress(t, cp)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if berr := backoff(ctx, m.opts.RetryBackoff<<uint(attempt-1)); berr != nil {
				break
			}
		}
		err = m.transferOnce(ctx, t, f, cp)
		if err == nil || ctx.Err() != nil || !errx.IsRetryable(err) || attempt >= m.opts.Retries {
			break
		}
		m.logger.Warn(ctx, "download attempt failed, retrying",
			"download_id", id, "attempt", attempt+1, "offset", cp.TotalBytesWritten, "error", err)
	}

	if cerr := f.Close(); err == nil && cerr != nil {
		err = errx.Wrap(errx.CodeLocalStoreFailed, cerr, "close part file")
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", m.interrupted(ctx, id, cp, err)
	}

	final := m.finalPath(id, t.key.Filename)
	if err := filex.MoveFile(m.partPath(id), final); err != nil {
		return "", m.interrupted(ctx, id, cp, errx.Wrap(errx.CodeLocalStoreFailed, err, "finalize download"))
	}
	if err := m.checkpoints.Delete(ctx, id); err != nil {
		m.logger.Warn(ctx, "failed to delete checkpoint", "download_id", id, "error", err)
	}

	m.mu.Lock()
	t.progress = 1
	m.mu.Unlock()

	m.logger.Info(ctx, "download completed", "download_id", id, "bytes", cp.TotalBytesWritten)
	return final, nil
}

func (m *Manager) transferOnce(ctx context.Context, t *transfer, f *os.File, cp *models.Checkpoint) error {
	resp, err := m.fetcher.Fetch(ctx, t.key.Source, cp.TotalBytesWritten)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.Start != cp.TotalBytesWritten {
		if resp.Start != 0 {
			return errx.New(errx.CodeDownloadFailed,
				fmt.Sprintf("server resumed at byte %d, want %d", resp.Start, cp.TotalBytesWritten))
		}
		m.logger.Info(ctx, "server ignored range, restarting", "download_id", cp.ID)
		if err := rewind(f, 0); err != nil {
			return errx.Wrap(errx.CodeLocalStoreFailed, err, "truncate part file")
		}
		cp.TotalBytesWritten = 0
	}
	if resp.Total >= 0 {
		cp.BytesExpected = resp.Total
	}

	buf := make([]byte, chunkSize)
	lastSave := m.now()
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if m.limiter != nil {
				if err := m.limiter.WaitN(ctx, n); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return errx.Wrap(errx.CodeInternal, err, "rate limit")
				}
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return errx.Wrap(errx.CodeLocalStoreFailed, werr, "write part file")
			}
			cp.TotalBytesWritten += int64(n)
			m.metrics.AddBytes(n)
			m.setProgress(t, cp)

			if m.opts.ProgressInterval <= 0 || m.now().Sub(lastSave) >= m.opts.ProgressInterval {
				m.saveCheckpoint(ctx, cp)
				lastSave = m.now()
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classify(rerr, "read body")
		}
	}

	if cp.BytesExpected > 0 && cp.TotalBytesWritten != cp.BytesExpected {
		return errx.New(errx.CodeDownloadFailed,
			fmt.Sprintf("short body: %d of %d bytes", cp.TotalBytesWritten, cp.BytesExpected))
	}
	if err := f.Sync(); err != nil {
		return errx.Wrap(errx.CodeLocalStoreFailed, err, "sync part file")
	}
	return nil
}

// interrupted persists or discards state according to why the transfer
// stopped and returns the error reported to the caller.
func (m *Manager) interrupted(ctx context.Context, id string, cp *models.Checkpoint, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errPaused):
		cp.Paused = true
		m.saveCheckpoint(ctx, cp)
		m.logger.Info(ctx, "download paused", "download_id", id, "bytes", cp.TotalBytesWritten)
		return errx.New(errx.CodePaused, "download paused")

	case errors.Is(cause, errCanceled):
		m.discardState(ctx, id)
		m.logger.Info(ctx, "download canceled", "download_id", id)
		return errx.New(errx.CodeCanceled, "download canceled")

	case ctx.Err() != nil:
		m.saveCheckpoint(ctx, cp)
		return errx.Wrap(errx.CodeCanceled, ctx.Err(), "download interrupted")
	}

	if errx.As(err) == nil {
		err = errx.Wrap(errx.CodeDownloadFailed, err, "download")
	}
	// A permanent failure leaves nothing to resume.
	if errx.IsRetryable(err) {
		m.saveCheckpoint(ctx, cp)
	} else {
		m.discardState(ctx, id)
	}
	m.logger.Warn(ctx, "download failed", "download_id", id, "url", cp.Source, "error", err)
	return err
}

func (m *Manager) saveCheckpoint(ctx context.Context, cp *models.Checkpoint) {
	cp.UpdatedAt = m.now().UTC()
	if err := m.checkpoints.Save(context.WithoutCancel(ctx), cp); err != nil {
		m.logger.Warn(ctx, "failed to persist checkpoint", "download_id", cp.ID, "error", err)
	}
}

func (m *Manager) discardState(ctx context.Context, id string) {
	if err := m.checkpoints.Delete(context.WithoutCancel(ctx), id); err != nil {
		m.logger.Warn(ctx, "failed to delete checkpoint", "download_id", id, "error", err)
	}
	if err := os.Remove(m.partPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn(ctx, "failed to remove part file", "download_id", id, "error", err)
	}
	m.mu.Lock()
	delete(m.progress, id)
	m.mu.Unlock()
}

// setProgress recomputes progress from the checkpoint without ever moving
// it backwards within a session.
func (m *Manager) setProgress(t *transfer, cp *models.Checkpoint) {
	var p float64
	if cp.BytesExpected > 0 {
		p = clamp01(float64(cp.TotalBytesWritten) / float64(cp.BytesExpected))
	}
	m.mu.Lock()
	if p > t.progress {
		t.progress = p
	}
	cp.Progress = t.progress
	m.mu.Unlock()
}

// openPart opens the partial file positioned at min(want, size on disk).
func openPart(path string, want int64) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o660)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	offset := min(max(want, 0), fi.Size())
	if err := rewind(f, offset); err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, offset, nil
}

func rewind(f *os.File, offset int64) error {
	if err := f.Truncate(offset); err != nil {
		return err
	}
	_, err := f.Seek(offset, io.SeekStart)
	return err
}

func backoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clamp01(p float64) float64 {
	return min(max(p, 0), 1)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultCompleted
	case errx.Is(err, errx.CodePaused):
		return metrics.ResultPaused
	case errx.Is(err, errx.CodeCanceled):
		return metrics.ResultCanceled
	default:
		return metrics.ResultFailed
	}
}
