package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/buildinfo"
	"github.com/dmitrijs2005/zonemedia/internal/client/albumstore"
	"github.com/dmitrijs2005/zonemedia/internal/client/capture"
	"github.com/dmitrijs2005/zonemedia/internal/client/client"
	"github.com/dmitrijs2005/zonemedia/internal/client/config"
	"github.com/dmitrijs2005/zonemedia/internal/client/download"
	"github.com/dmitrijs2005/zonemedia/internal/client/eviction"
	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/client/permission"
	"github.com/dmitrijs2005/zonemedia/internal/client/repositories/kv"
	"github.com/dmitrijs2005/zonemedia/internal/client/services"
	"github.com/dmitrijs2005/zonemedia/internal/client/session"
	"github.com/dmitrijs2005/zonemedia/internal/filex"
	"github.com/dmitrijs2005/zonemedia/internal/logging"
	"github.com/dmitrijs2005/zonemedia/internal/metrics"
	"github.com/dmitrijs2005/zonemedia/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"

	_ "modernc.org/sqlite"
)

const tracerShutdownTimeout = 5 * time.Second

// downloads is the part of download.Manager the commands and the resume
// watcher use.
type downloads interface {
	Resume(ctx context.Context, id string) (string, error)
	Pause(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Progress(ctx context.Context, id string) float64
	Pending(ctx context.Context) ([]*models.Checkpoint, error)
	Active() []string
}

type App struct {
	config    *config.Config
	logger    logging.Logger
	media     services.MediaService
	downloads downloads
	pending   *capture.PendingList
	registry  *prometheus.Registry
	reader    *bufio.Reader
	out       io.Writer
	closers   []func() error
}

// NewApp opens the local database and builds every component of the cache
// from c.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewDefault(c.LogLevel, os.Stderr)
	app := &App{
		config:   c,
		logger:   logger,
		pending:  &capture.PendingList{},
		registry: prometheus.NewRegistry(),
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}

	if err := app.init(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	c := a.config

	if c.OTLPEndpoint != "" {
		shutdown, err := tracing.InitTracer(ctx, "zonemedia", buildinfo.Version(), c.OTLPEndpoint)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
			defer cancel()
			return shutdown(ctx)
		})
	}

	db, err := client.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		a.logger.Error(ctx, "error initializing database", "error", err)
		return err
	}
	a.closers = append(a.closers, db.Close)

	checkpoints, err := a.checkpointRepository(ctx, kv.NewSQLiteRepository(db, kv.TableCheckpoints))
	if err != nil {
		return err
	}

	fetcher := a.fetchers(ctx)
	mm := metrics.NewMediaMetrics(a.registry)

	manager, err := download.NewManager(fetcher, download.NewCheckpointStore(checkpoints), download.Options{
		Dir:              c.DownloadDir,
		BytesPerSecond:   c.RateLimit,
		ProgressInterval: c.ProgressInterval,
		Retries:          c.Retries,
	}, a.logger, mm)
	if err != nil {
		return fmt.Errorf("failed to create download manager: %w", err)
	}
	a.downloads = manager

	store, err := albumstore.NewSQLiteStore(db, c.LibraryDir, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open media library: %w", err)
	}

	manifest, err := a.manifestClient()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, manifest.Close)

	gate, err := a.permissionGate(ctx, kv.NewSQLiteRepository(db, kv.TableMetadata))
	if err != nil {
		return err
	}

	policy, err := a.evictionPolicy()
	if err != nil {
		return err
	}

	a.media = services.NewMediaService(services.MediaDeps{
		Manifest:    manifest,
		Store:       store,
		Downloader:  manager,
		Gate:        gate,
		Session:     a.session(),
		Eviction:    policy,
		Matcher:     filex.MatcherFor(filex.MatchMode(c.MatchMode)),
		Logger:      a.logger,
		Metrics:     mm,
		Concurrency: c.DownloadConcurrency,
	})
	if err := a.media.Prune(ctx); err != nil {
		a.logger.Warn(ctx, "pruning cached zones failed", "error", err)
	}
	return nil
}

func (a *App) checkpointRepository(ctx context.Context, local kv.Repository) (kv.Repository, error) {
	if a.config.CheckpointBackend != "redis" {
		return local, nil
	}
	r, err := kv.NewRedisRepository(ctx, a.config.RedisAddr, a.config.RedisPassword, a.config.RedisDB, kv.DefaultNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to connect checkpoint store: %w", err)
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

// fetchers routes http(s) sources to the HTTP fetcher and s3 sources to the
// object store when it can be configured.
func (a *App) fetchers(ctx context.Context) download.MultiFetcher {
	httpFetcher := download.NewHTTPFetcher(a.config.RequestTimeout)
	m := download.MultiFetcher{"http": httpFetcher, "https": httpFetcher}

	s3f, err := download.NewS3Fetcher(ctx, download.S3Config{
		Region:    a.config.S3Region,
		Endpoint:  a.config.S3Endpoint,
		AccessKey: a.config.S3AccessKey,
		SecretKey: a.config.S3SecretKey,
	})
	if err != nil {
		a.logger.Warn(ctx, "s3 sources disabled", "error", err)
		return m
	}
	m["s3"] = s3f
	return m
}

func (a *App) manifestClient() (client.ManifestClient, error) {
	c := a.config
	if c.ManifestTransport == "grpc" {
		g, err := client.NewGRPCManifestClient(c.ManifestEndpoint, c.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to create manifest client: %w", err)
		}
		return g, nil
	}
	return client.NewHTTPManifestClient(c.ManifestEndpoint, c.RequestTimeout, c.AccessToken), nil
}

func (a *App) permissionGate(ctx context.Context, metadata kv.Repository) (*permission.Gate, error) {
	prompter := permission.NewTerminalPrompter(metadata, a.reader, os.Stderr).WithTerminal(os.Stdin)
	if a.config.GrantMediaAccess {
		if err := prompter.Grant(ctx); err != nil {
			return nil, fmt.Errorf("failed to record media access grant: %w", err)
		}
	}
	notify := permission.NotifierFunc(func(context.Context) {
		fmt.Fprintln(os.Stderr, "Media library access is denied. Run with -grant to allow it.")
	})
	return permission.NewGate(prompter, notify, a.logger), nil
}

func (a *App) evictionPolicy() (eviction.Policy, error) {
	if a.config.EvictMaxZones <= 0 {
		return eviction.Noop{}, nil
	}
	lru, err := eviction.NewLRU(a.config.EvictMaxZones)
	if err != nil {
		return nil, fmt.Errorf("failed to create eviction policy: %w", err)
	}
	return lru, nil
}

func (a *App) session() session.Provider {
	if a.config.AccessToken != "" {
		var secret []byte
		if a.config.TokenSecret != "" {
			secret = []byte(a.config.TokenSecret)
		}
		return session.NewJWT(a.config.AccessToken, secret)
	}
	return session.Static(a.config.UserID)
}

// Close releases the database and network clients in reverse order of
// creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run executes args as a single command, or starts the interactive shell
// when args is empty. The resume watcher and the metrics endpoint live for
// the duration of the call.
func (a *App) Run(ctx context.Context, args []string) error {
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn(ctx, "close failed", "error", err)
		}
	}()

	if a.config.MetricsAddr != "" {
		go a.serveMetrics(ctx, a.config.MetricsAddr)
	}

	if len(args) > 0 {
		return a.exec(ctx, args)
	}

	if a.config.ResumeInterval > 0 {
		go a.StartResumeWatcher(ctx, a.config.ResumeInterval)
	}
	a.Root(ctx)
	return nil
}

// Root runs the interactive shell until the user exits or ctx ends.
func (a *App) Root(ctx context.Context) {
	printlnFn("Welcome to zonemedia (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

func (a *App) getStatus() string {
	if a.downloads == nil {
		return ""
	}
	active := len(a.downloads.Active())
	queued := a.pending.Len()
	if active == 0 && queued == 0 {
		return ""
	}
	return fmt.Sprintf("(%d active, %d pending)", active, queued)
}

// StartResumeWatcher periodically resumes persisted checkpoints that are not
// paused and not already transferring, such as those left behind by a killed
// process. Completed files stay in the download directory until the next
// sync of their zone adopts them.
func (a *App) StartResumeWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.resumeStalled(ctx)
		case <-ctx.Done():
			return
		}
	}
}
