package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/client/albumstore"
	"github.com/dmitrijs2005/zonemedia/internal/client/client"
	"github.com/dmitrijs2005/zonemedia/internal/client/eviction"
	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/client/session"
	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"github.com/dmitrijs2005/zonemedia/internal/filex"
	"github.com/dmitrijs2005/zonemedia/internal/logging"
	"github.com/dmitrijs2005/zonemedia/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("zonemedia-services")

const defaultConcurrency = 3

// Downloader is the part of download.Manager the engine drives.
type Downloader interface {
	Start(ctx context.Context, source, filename string) (id string, localPath string, err error)
	// Release drops what remains of a finished download once its file has
	// been moved into the library.
	Release(id string)
}

// Gate is consulted before any library access.
type Gate interface {
	Ensure(ctx context.Context) bool
}

// ZoneMedia is the result of a reconciliation pass: the items to render and
// the soft failures met on the way.
type ZoneMedia struct {
	Items    []models.MediaItem
	Warnings []error
}

// Retryable reports whether calling again later may produce more items.
func (z *ZoneMedia) Retryable() bool {
	if z == nil {
		return false
	}
	for _, w := range z.Warnings {
		if errx.IsRetryable(w) {
			return true
		}
	}
	return false
}

// ItemError reports a media item SaveMedia could not store.
type ItemError struct {
	URI string
	Err error
}

func (e *ItemError) Error() string { return "save " + e.URI + ": " + e.Err.Error() }
func (e *ItemError) Unwrap() error { return e.Err }

type MediaService interface {
	// GetZoneMedia returns the cached media of zone. With shouldSync the
	// remote manifest is reconciled into the local album first.
	GetZoneMedia(ctx context.Context, zone *models.Zone, shouldSync bool) (*ZoneMedia, error)
	// SaveMedia moves locally captured items into the zone's album.
	SaveMedia(ctx context.Context, items []models.MediaItem, zoneID string) (*models.Album, error)
	// CachedZones lists the zones that have an album on this device.
	CachedZones(ctx context.Context) ([]string, error)
	// Prune tells a bounded eviction policy about the albums already on the
	// device and drops those beyond its bound.
	Prune(ctx context.Context) error
}

type MediaDeps struct {
	Manifest   client.ManifestClient
	Store      albumstore.Store
	Downloader Downloader
	Gate       Gate
	Session    session.Provider
	Eviction   eviction.Policy
	Matcher    filex.Matcher
	Logger     logging.Logger
	Metrics    *metrics.MediaMetrics
	// Concurrency bounds parallel downloads within one pass.
	Concurrency int
}

type mediaService struct {
	manifest    client.ManifestClient
	store       albumstore.Store
	downloader  Downloader
	gate        Gate
	session     session.Provider
	eviction    eviction.Policy
	matcher     filex.Matcher
	logger      logging.Logger
	metrics     *metrics.MediaMetrics
	concurrency int

	inflight singleflight.Group
	albumMu  sync.Mutex
}

func NewMediaService(d MediaDeps) MediaService {
	s := &mediaService{
		manifest:    d.Manifest,
		store:       d.Store,
		downloader:  d.Downloader,
		gate:        d.Gate,
		session:     d.Session,
		eviction:    d.Eviction,
		matcher:     d.Matcher,
		logger:      d.Logger,
		metrics:     d.Metrics,
		concurrency: d.Concurrency,
	}
	if s.session == nil {
		s.session = session.Static("")
	}
	if s.eviction == nil {
		s.eviction = eviction.Noop{}
	}
	if s.matcher == nil {
		s.matcher = filex.MatcherFor(filex.MatchExact)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	s.logger = s.logger.With("component", "media")
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	return s
}

func (s *mediaService) GetZoneMedia(ctx context.Context, zone *models.Zone, shouldSync bool) (result *ZoneMedia, err error) {
	if zone == nil || strings.TrimSpace(zone.ID) == "" {
		return nil, errx.New(errx.CodeValidation, "zone required")
	}

	ctx, span := tracer.Start(ctx, "media.GetZoneMedia", trace.WithAttributes(
		attribute.String("zone_id", zone.ID),
		attribute.Bool("should_sync", shouldSync),
	))
	started := time.Now()
	defer func() {
		outcome := reconcileOutcome(shouldSync, result, err)
		s.metrics.ObserveReconcile(outcome, time.Since(started))
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := s.ensureAccess(ctx); err != nil {
		s.logger.Info(ctx, "media library unavailable", "zone_id", zone.ID, "error", err)
		return nil, err
	}

	var warnings []error
	if shouldSync {
		warnings, err = s.syncZone(ctx, zone)
		if err != nil {
			return nil, err
		}
	}

	items, err := s.readAlbum(ctx, zone.ID)
	if err != nil {
		return nil, err
	}

	s.evict(ctx, zone.ID)
	return &ZoneMedia{Items: items, Warnings: warnings}, nil
}

// ensureAccess consults the gate. A caller that gave up while the decision
// was pending gets CodeCanceled, not a denial.
func (s *mediaService) ensureAccess(ctx context.Context) error {
	if s.gate.Ensure(ctx) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errx.Wrap(errx.CodeCanceled, err, "wait for media library access")
	}
	return errx.New(errx.CodePermissionDenied, "media library access denied")
}

// syncZone runs checkAndDownloadMedia once per zone at a time; callers
// arriving while a pass is running wait for it. The pass outlives a caller
// that gives up.
func (s *mediaService) syncZone(ctx context.Context, zone *models.Zone) ([]error, error) {
	ch := s.inflight.DoChan(zone.ID, func() (any, error) {
		return s.checkAndDownloadMedia(context.WithoutCancel(ctx), zone)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug(ctx, "joined in-flight reconciliation", "zone_id", zone.ID)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		warnings, _ := res.Val.([]error)
		return warnings, nil
	case <-ctx.Done():
		return nil, errx.Wrap(errx.CodeCanceled, ctx.Err(), "reconcile zone")
	}
}

// checkAndDownloadMedia downloads the manifest entries missing from the
// zone's album. Manifest and per-item failures come back as warnings; only
// a broken local store is an error.
func (s *mediaService) checkAndDownloadMedia(ctx context.Context, zone *models.Zone) ([]error, error) {
	ctx, span := tracer.Start(ctx, "media.checkAndDownloadMedia", trace.WithAttributes(attribute.String("zone_id", zone.ID)))
	defer span.End()

	var local []*models.Asset
	album, err := s.store.GetAlbum(ctx, models.AlbumName(zone.ID))
	if err != nil {
		return nil, err
	}
	if album != nil {
		if local, err = s.store.ListAssets(ctx, album); err != nil {
			return nil, err
		}
	}

	records, err := s.manifest.GetZoneMedia(ctx, zone.ID)
	if err != nil {
		s.metrics.IncManifestFailure()
		s.logger.Warn(ctx, "manifest fetch failed", "zone_id", zone.ID, "error", err)
		return []error{manifestErr(err)}, nil
	}

	missing := s.missing(local, records)
	if len(missing) == 0 {
		s.logger.Debug(ctx, "zone up to date", "zone_id", zone.ID, "local", len(local))
		return nil, nil
	}

	todo := s.applyPolicy(ctx, zone, missing)
	span.SetAttributes(attribute.Int("missing", len(missing)), attribute.Int("downloads", len(todo)))
	if len(todo) == 0 {
		return nil, nil
	}

	var (
		mu       sync.Mutex
		warnings []error
	)
	sem := semaphore.NewWeighted(int64(s.concurrency))
	var g errgroup.Group
	for _, rec := range todo {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := s.downloadToAlbum(ctx, zone.ID, rec); err != nil {
				mu.Lock()
				warnings = append(warnings, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info(ctx, "zone reconciled", "zone_id", zone.ID,
		"missing", len(missing), "downloaded", len(todo)-len(warnings), "failed", len(warnings))
	return warnings, nil
}

// missing returns the records none of whose filenames the local assets
// match. Duplicate URLs are collapsed.
func (s *mediaService) missing(local []*models.Asset, records []models.RemoteMediaRecord) []models.RemoteMediaRecord {
	seen := make(map[string]struct{}, len(records))
	var out []models.RemoteMediaRecord
	for _, r := range records {
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}

		found := false
		for _, a := range local {
			if s.matcher(a.URI, r.URL) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}

// applyPolicy drops audio and, for zones the user did not author, anything
// but images.
func (s *mediaService) applyPolicy(ctx context.Context, zone *models.Zone, missing []models.RemoteMediaRecord) []models.RemoteMediaRecord {
	owner := s.isOwner(ctx, zone)

	out := make([]models.RemoteMediaRecord, 0, len(missing))
	for _, r := range missing {
		if r.IsAudio() {
			s.logger.Info(ctx, "skipping audio attachment", "zone_id", zone.ID, "url", r.URL)
			continue
		}
		kind, ok := r.Kind()
		if !ok {
			s.logger.Warn(ctx, "skipping unknown media type", "zone_id", zone.ID, "url", r.URL, "media_type", r.MediaType)
			continue
		}
		if !owner && kind != models.MediaTypeImage {
			s.logger.Debug(ctx, "skipping video for non-owned zone", "zone_id", zone.ID, "url", r.URL)
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *mediaService) isOwner(ctx context.Context, zone *models.Zone) bool {
	userID, err := s.session.CurrentUserID(ctx)
	if err != nil {
		s.logger.Warn(ctx, "cannot resolve current user", "error", err)
		return false
	}
	return zone.OwnedBy(userID)
}

func (s *mediaService) downloadToAlbum(ctx context.Context, zoneID string, rec models.RemoteMediaRecord) error {
	filename := filex.RemoteFilename(rec.URL)
	id, path, err := s.downloader.Start(ctx, rec.URL, filename)
	if err != nil {
		s.logger.Warn(ctx, "download failed", "zone_id", zoneID, "url", rec.URL, "error", err)
		return err
	}
	defer s.downloader.Release(id)

	asset, err := s.store.CreateAsset(ctx, filex.FileURI(path))
	if err != nil {
		s.logger.Warn(ctx, "failed to register downloaded file", "zone_id", zoneID, "download_id", id, "error", err)
		return err
	}

	if _, err := s.addToAlbum(ctx, zoneID, asset); err != nil {
		s.logger.Warn(ctx, "failed to add asset to album", "zone_id", zoneID, "asset_id", asset.ID, "error", err)
		if derr := s.store.DeleteAsset(ctx, asset); derr != nil {
			s.logger.Error(ctx, "failed to remove unlinked asset", "asset_id", asset.ID, "error", derr)
		}
		return err
	}
	return nil
}

// addToAlbum appends assets to the zone's album, creating the album with the
// first asset when the zone has none yet.
func (s *mediaService) addToAlbum(ctx context.Context, zoneID string, assets ...*models.Asset) (*models.Album, error) {
	if len(assets) == 0 {
		return nil, nil
	}
	s.albumMu.Lock()
	defer s.albumMu.Unlock()

	name := models.AlbumName(zoneID)
	album, err := s.store.GetAlbum(ctx, name)
	if err != nil {
		return nil, err
	}
	rest := assets
	if album == nil {
		if album, err = s.store.CreateAlbum(ctx, name, assets[0]); err != nil {
			return nil, err
		}
		rest = assets[1:]
	}
	if err := s.store.AddAssetsToAlbum(ctx, rest, album); err != nil {
		return nil, err
	}
	return album, nil
}

func (s *mediaService) readAlbum(ctx context.Context, zoneID string) ([]models.MediaItem, error) {
	album, err := s.store.GetAlbum(ctx, models.AlbumName(zoneID))
	if err != nil {
		return nil, err
	}
	if album == nil {
		return []models.MediaItem{}, nil
	}

	assets, err := s.store.ListAssets(ctx, album, models.AssetTypePhoto, models.AssetTypeVideo)
	if err != nil {
		return nil, err
	}
	items := make([]models.MediaItem, 0, len(assets))
	for _, a := range assets {
		items = append(items, a.MediaItem())
	}
	return items, nil
}

func (s *mediaService) SaveMedia(ctx context.Context, items []models.MediaItem, zoneID string) (*models.Album, error) {
	if strings.TrimSpace(zoneID) == "" {
		return nil, errx.New(errx.CodeValidation, "zone id required")
	}
	if err := s.ensureAccess(ctx); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	var (
		created []*models.Asset
		sources []string
		errs    []error
	)
	for _, it := range items {
		asset, err := s.store.CreateAsset(ctx, it.URI)
		if err != nil {
			s.logger.Warn(ctx, "failed to save media item", "zone_id", zoneID, "uri", it.URI, "error", err)
			errs = append(errs, &ItemError{URI: it.URI, Err: err})
			continue
		}
		created = append(created, asset)
		sources = append(sources, it.URI)
	}
	if len(created) == 0 {
		return nil, errs[0]
	}

	album, err := s.addToAlbum(ctx, zoneID, created...)
	if err != nil {
		s.logger.Warn(ctx, "failed to add saved media to album", "zone_id", zoneID, "error", err)
		s.restore(ctx, created, sources)
		return nil, err
	}
	s.logger.Info(ctx, "media saved", "zone_id", zoneID, "saved", len(created), "failed", len(errs))
	return album, errors.Join(errs...)
}

// restore hands captured files back to where SaveMedia found them, so the
// caller can retry with the same items.
func (s *mediaService) restore(ctx context.Context, created []*models.Asset, sources []string) {
	for i, asset := range created {
		if err := s.store.RestoreAsset(ctx, asset, sources[i]); err != nil {
			s.logger.Error(ctx, "failed to restore captured file", "asset_id", asset.ID, "uri", sources[i], "error", err)
		}
	}
}

func (s *mediaService) CachedZones(ctx context.Context) ([]string, error) {
	list, err := s.store.ListAlbums(ctx)
	if err != nil {
		return nil, err
	}
	var zones []string
	for _, a := range list {
		if id, ok := models.ZoneIDFromAlbum(a.Name); ok {
			zones = append(zones, id)
		}
	}
	return zones, nil
}

func (s *mediaService) Prune(ctx context.Context) error {
	seeder, ok := s.eviction.(eviction.Seeder)
	if !ok {
		return nil
	}
	list, err := s.store.ListAlbums(ctx)
	if err != nil {
		return err
	}
	slices.SortStableFunc(list, func(a, b *models.Album) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	var zones []string
	for _, a := range list {
		if id, ok := models.ZoneIDFromAlbum(a.Name); ok {
			zones = append(zones, id)
		}
	}
	s.dropZones(ctx, seeder.Seed(zones), "")
	return nil
}

// evict drops the albums the eviction policy gives up on after zoneID was
// viewed.
func (s *mediaService) evict(ctx context.Context, zoneID string) {
	s.dropZones(ctx, s.eviction.Touch(zoneID), zoneID)
}

// dropZones deletes the albums of victims except keep. Failures are logged;
// the next pass tries again.
func (s *mediaService) dropZones(ctx context.Context, victims []string, keep string) {
	for _, victim := range victims {
		if victim == keep {
			continue
		}
		album, err := s.store.GetAlbum(ctx, models.AlbumName(victim))
		if err != nil {
			s.logger.Warn(ctx, "eviction lookup failed", "zone_id", victim, "error", err)
			continue
		}
		if album == nil {
			continue
		}
		if err := s.store.DeleteAlbum(ctx, album); err != nil {
			s.logger.Warn(ctx, "eviction failed", "zone_id", victim, "error", err)
			continue
		}
		s.metrics.ObserveReconcile(metrics.OutcomeEvicted, 0)
		s.logger.Info(ctx, "zone album evicted", "zone_id", victim)
	}
}

func manifestErr(err error) error {
	e := errx.Wrap(errx.CodeRemoteFetchFailed, err, "fetch manifest")
	switch {
	case errors.Is(err, client.ErrUnauthorized), errors.Is(err, client.ErrBadManifest):
		return e.WithRetryable(false)
	}
	return e
}

func reconcileOutcome(shouldSync bool, res *ZoneMedia, err error) string {
	switch {
	case errx.Is(err, errx.CodePermissionDenied):
		return metrics.OutcomeDenied
	case errx.Is(err, errx.CodeCanceled):
		return metrics.OutcomeCanceled
	case err != nil:
		return metrics.OutcomeFailed
	case len(res.Warnings) > 0:
		return metrics.OutcomeDegraded
	case shouldSync:
		return metrics.OutcomeSynced
	default:
		return metrics.OutcomeLocal
	}
}
