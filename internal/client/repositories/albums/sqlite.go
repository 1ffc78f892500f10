package albums

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/common"
	"github.com/dmitrijs2005/zonemedia/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*models.Album, error) {
	query := `select a.id, a.name, a.created_at, count(aa.asset_id)
		from albums a left join album_assets aa on aa.album_id = a.id
		where a.name = ? group by a.id, a.name, a.created_at`

	var (
		album   models.Album
		created int64
	)
	err := r.db.QueryRowContext(ctx, query, name).Scan(&album.ID, &album.Name, &created, &album.AssetCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get album %q: %w", name, err)
	}
	album.CreatedAt = time.Unix(0, created).UTC()
	return &album, nil
}

// Create inserts the album unless the name is taken; either way the album
// holding the name is returned.
func (r *SQLiteRepository) Create(ctx context.Context, album *models.Album) (*models.Album, error) {
	if album.CreatedAt.IsZero() {
		album.CreatedAt = time.Now().UTC()
	}
	query := `insert into albums (id, name, created_at) values (?, ?, ?)
		on conflict(name) do nothing`
	if _, err := r.db.ExecContext(ctx, query, album.ID, album.Name, album.CreatedAt.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to insert album: %w", err)
	}
	return r.GetByName(ctx, album.Name)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Album, error) {
	query := `select a.id, a.name, a.created_at, count(aa.asset_id)
		from albums a left join album_assets aa on aa.album_id = a.id
		group by a.id, a.name, a.created_at order by a.name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select albums: %w", err)
	}
	defer rows.Close()

	var result []*models.Album
	for rows.Next() {
		var (
			album   models.Album
			created int64
		)
		if err := rows.Scan(&album.ID, &album.Name, &created, &album.AssetCount); err != nil {
			return nil, err
		}
		album.CreatedAt = time.Unix(0, created).UTC()
		result = append(result, &album)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `delete from album_assets where album_id = ?`, id); err != nil {
		return fmt.Errorf("failed to unlink album assets: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `delete from albums where id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete album: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) AddAssets(ctx context.Context, albumID string, assetIDs []string, at time.Time) (int, error) {
	added := 0
	for i, id := range assetIDs {
		// Nanosecond offsets keep insertion order stable for a batch.
		res, err := r.db.ExecContext(ctx,
			`insert into album_assets (album_id, asset_id, added_at) values (?, ?, ?)
			on conflict(album_id, asset_id) do nothing`,
			albumID, id, at.UnixNano()+int64(i))
		if err != nil {
			return added, fmt.Errorf("failed to add asset %s to album: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}
	return added, nil
}

func (r *SQLiteRepository) ListAssets(ctx context.Context, albumID string, types []models.AssetType) ([]*models.Asset, error) {
	query := `select s.id, s.uri, s.filename, s.media_type, s.size_bytes, s.created_at
		from album_assets aa join assets s on s.id = aa.asset_id
		where aa.album_id = ?`
	args := []any{albumID}
	if len(types) > 0 {
		query += ` and s.media_type in (?` + strings.Repeat(`, ?`, len(types)-1) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += ` order by aa.added_at, s.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select album assets: %w", err)
	}
	defer rows.Close()

	var result []*models.Asset
	for rows.Next() {
		var (
			a       models.Asset
			mt      string
			created int64
		)
		if err := rows.Scan(&a.ID, &a.URI, &a.Filename, &mt, &a.SizeBytes, &created); err != nil {
			return nil, fmt.Errorf("failed to scan album asset: %w", err)
		}
		a.Type = models.AssetType(mt)
		a.CreatedAt = time.Unix(0, created).UTC()
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
