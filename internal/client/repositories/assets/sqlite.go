package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

func (r *SQLiteRepository) Create(ctx context.Context, a *models.Asset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `insert into assets (id, uri, filename, media_type, size_bytes, created_at)
		values (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.URI, a.Filename, string(a.Type), a.SizeBytes, a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Asset, error) {
	query := `select id, uri, filename, media_type, size_bytes, created_at from assets where id = ?`
	a, err := scanAsset(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `delete from album_assets where asset_id = ?`, id); err != nil {
		return fmt.Errorf("failed to unlink asset: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `delete from assets where id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
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

func (r *SQLiteRepository) ListOrphans(ctx context.Context) ([]*models.Asset, error) {
	query := `select id, uri, filename, media_type, size_bytes, created_at from assets s
		where not exists (select 1 from album_assets aa where aa.asset_id = s.id)
		order by created_at, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select orphan assets: %w", err)
	}
	defer rows.Close()

	var result []*models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(s scanner) (*models.Asset, error) {
	var (
		a       models.Asset
		mt      string
		created int64
	)
	if err := s.Scan(&a.ID, &a.URI, &a.Filename, &mt, &a.SizeBytes, &created); err != nil {
		return nil, err
	}
	a.Type = models.AssetType(mt)
	a.CreatedAt = time.Unix(0, created).UTC()
	return &a, nil
}
