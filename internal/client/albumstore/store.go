// Package albumstore is the local album store: the device-side library that
// holds downloaded and captured media grouped into named albums.
//
// Files live under the library directory as <library>/<assetID>/<filename>;
// the original filename is kept so a cached asset can be matched against a
// manifest URL. Album and asset records are kept in the SQLite index.
package albumstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/client/repositories/albums"
	"github.com/dmitrijs2005/zonemedia/internal/client/repositories/assets"
	"github.com/dmitrijs2005/zonemedia/internal/common"
	"github.com/dmitrijs2005/zonemedia/internal/dbx"
	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"github.com/dmitrijs2005/zonemedia/internal/filex"
	"github.com/dmitrijs2005/zonemedia/internal/logging"
	"github.com/google/uuid"
)

// Store is the album/asset primitive the reconciliation engine works
// against. Every error it returns is an *errx.Error with
// errx.CodeLocalStoreFailed (or CodeValidation for bad input).
type Store interface {
	// GetAlbum returns (nil, nil) when no album has the name.
	GetAlbum(ctx context.Context, name string) (*models.Album, error)
	// CreateAlbum creates the album with first as its initial member. If the
	// name is already taken the existing album is returned and first is
	// appended to it.
	CreateAlbum(ctx context.Context, name string, first *models.Asset) (*models.Album, error)
	AddAssetsToAlbum(ctx context.Context, items []*models.Asset, album *models.Album) error
	// ListAssets returns album members whose files are still on disk. No
	// types means every type.
	ListAssets(ctx context.Context, album *models.Album, types ...models.AssetType) ([]*models.Asset, error)
	// CreateAsset moves the file at localURI into the library and registers it.
	CreateAsset(ctx context.Context, localURI string) (*models.Asset, error)
	DeleteAsset(ctx context.Context, asset *models.Asset) error
	// RestoreAsset undoes CreateAsset: the file goes back to localURI and
	// the record is dropped.
	RestoreAsset(ctx context.Context, asset *models.Asset, localURI string) error
	// DeleteAlbum removes the album and every asset left in no album.
	DeleteAlbum(ctx context.Context, album *models.Album) error
	ListAlbums(ctx context.Context) ([]*models.Album, error)
}

type sqliteStore struct {
	db         *sql.DB
	libraryDir string
	logger     logging.Logger
	now        func() time.Time
}

func NewSQLiteStore(db *sql.DB, libraryDir string, logger logging.Logger) (Store, error) {
	dir, err := filex.EnsureDir(libraryDir)
	if err != nil {
		return nil, errx.Wrap(errx.CodeLocalStoreFailed, err, "prepare library dir")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &sqliteStore{
		db:         db,
		libraryDir: dir,
		logger:     logger.With("component", "albumstore"),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func storeErr(err error, msg string) error {
	return errx.Wrap(errx.CodeLocalStoreFailed, err, msg)
}

func (s *sqliteStore) GetAlbum(ctx context.Context, name string) (*models.Album, error) {
	album, err := albums.NewSQLiteRepository(s.db).GetByName(ctx, name)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "get album")
	}
	return album, nil
}

func (s *sqliteStore) CreateAlbum(ctx context.Context, name string, first *models.Asset) (*models.Album, error) {
	if name == "" {
		return nil, errx.New(errx.CodeValidation, "album name required")
	}

	var album *models.Album
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := albums.NewSQLiteRepository(tx)
		a, err := repo.Create(ctx, &models.Album{ID: uuid.NewString(), Name: name, CreatedAt: s.now()})
		if err != nil {
			return err
		}
		if first != nil {
			if _, err := repo.AddAssets(ctx, a.ID, []string{first.ID}, s.now()); err != nil {
				return err
			}
			a.AssetCount++
		}
		album = a
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "create album")
	}

	s.logger.Info(ctx, "album created", "album", name, "album_id", album.ID)
	return album, nil
}

func (s *sqliteStore) AddAssetsToAlbum(ctx context.Context, items []*models.Asset, album *models.Album) error {
	if album == nil {
		return errx.New(errx.CodeValidation, "album required")
	}
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, 0, len(items))
	for _, a := range items {
		ids = append(ids, a.ID)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := albums.NewSQLiteRepository(tx).AddAssets(ctx, album.ID, ids, s.now())
		album.AssetCount += n
		return err
	})
	if err != nil {
		return storeErr(err, "add assets to album")
	}
	return nil
}

func (s *sqliteStore) ListAssets(ctx context.Context, album *models.Album, types ...models.AssetType) ([]*models.Asset, error) {
	if album == nil {
		return nil, errx.New(errx.CodeValidation, "album required")
	}

	items, err := albums.NewSQLiteRepository(s.db).ListAssets(ctx, album.ID, types)
	if err != nil {
		return nil, storeErr(err, "list assets")
	}

	result := make([]*models.Asset, 0, len(items))
	for _, a := range items {
		path, err := filex.PathFromURI(a.URI)
		if err != nil || !filex.Exists(path) {
			s.logger.Warn(ctx, "asset file missing", "album", album.Name, "asset_id", a.ID, "uri", a.URI)
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *sqliteStore) CreateAsset(ctx context.Context, localURI string) (*models.Asset, error) {
	src, err := filex.PathFromURI(localURI)
	if err != nil {
		return nil, errx.Wrap(errx.CodeValidation, err, "bad local uri")
	}
	fi, err := os.Stat(src)
	if err != nil {
		return nil, storeErr(err, "stat source file")
	}
	if !fi.Mode().IsRegular() {
		return nil, errx.New(errx.CodeValidation, "not a regular file: "+src)
	}

	id := uuid.NewString()
	filename := filepath.Base(src)
	assetType := DetectAssetType(src)
	dst := filepath.Join(s.libraryDir, id, filename)

	if err := filex.MoveFile(src, dst); err != nil {
		return nil, storeErr(err, "move file into library")
	}

	asset := &models.Asset{
		ID:        id,
		URI:       filex.FileURI(dst),
		Filename:  filename,
		Type:      assetType,
		SizeBytes: fi.Size(),
		CreatedAt: s.now(),
	}
	if err := assets.NewSQLiteRepository(s.db).Create(ctx, asset); err != nil {
		if rerr := filex.MoveFile(dst, src); rerr != nil {
			s.logger.Error(ctx, "failed to restore source file", "path", src, "error", rerr)
		}
		_ = os.Remove(filepath.Dir(dst))
		return nil, storeErr(err, "register asset")
	}

	s.logger.Debug(ctx, "asset created", "asset_id", id, "filename", filename, "type", assetType)
	return asset, nil
}

func (s *sqliteStore) DeleteAsset(ctx context.Context, asset *models.Asset) error {
	if asset == nil {
		return errx.New(errx.CodeValidation, "asset required")
	}
	err := assets.NewSQLiteRepository(s.db).Delete(ctx, asset.ID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return storeErr(err, "delete asset")
	}
	s.removeFile(ctx, asset)
	return nil
}

func (s *sqliteStore) RestoreAsset(ctx context.Context, asset *models.Asset, localURI string) error {
	if asset == nil {
		return errx.New(errx.CodeValidation, "asset required")
	}
	dst, err := filex.PathFromURI(localURI)
	if err != nil {
		return errx.Wrap(errx.CodeValidation, err, "bad local uri")
	}
	src, err := filex.PathFromURI(asset.URI)
	if err != nil {
		return storeErr(err, "resolve asset file")
	}

	if err := filex.MoveFile(src, dst); err != nil {
		return storeErr(err, "move file out of library")
	}
	_ = os.Remove(filepath.Dir(src))

	err = assets.NewSQLiteRepository(s.db).Delete(ctx, asset.ID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return storeErr(err, "delete restored asset")
	}
	s.logger.Debug(ctx, "asset restored", "asset_id", asset.ID, "path", dst)
	return nil
}

func (s *sqliteStore) DeleteAlbum(ctx context.Context, album *models.Album) error {
	if album == nil {
		return errx.New(errx.CodeValidation, "album required")
	}

	var orphans []*models.Asset
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := albums.NewSQLiteRepository(tx).Delete(ctx, album.ID); err != nil {
			return err
		}
		assetRepo := assets.NewSQLiteRepository(tx)
		list, err := assetRepo.ListOrphans(ctx)
		if err != nil {
			return err
		}
		for _, a := range list {
			if err := assetRepo.Delete(ctx, a.ID); err != nil {
				return err
			}
		}
		orphans = list
		return nil
	})
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err, "delete album")
	}

	for _, a := range orphans {
		s.removeFile(ctx, a)
	}
	s.logger.Info(ctx, "album deleted", "album", album.Name, "assets_removed", len(orphans))
	return nil
}

func (s *sqliteStore) ListAlbums(ctx context.Context) ([]*models.Album, error) {
	list, err := albums.NewSQLiteRepository(s.db).List(ctx)
	if err != nil {
		return nil, storeErr(err, "list albums")
	}
	return list, nil
}

// removeFile deletes the asset file and its per-asset directory when the
// file lives inside the library.
func (s *sqliteStore) removeFile(ctx context.Context, asset *models.Asset) {
	path, err := filex.PathFromURI(asset.URI)
	if err != nil {
		return
	}
	if rel, err := filepath.Rel(s.libraryDir, path); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn(ctx, "failed to remove asset file", "path", path, "error", err)
	}
	_ = os.Remove(filepath.Dir(path))
}

