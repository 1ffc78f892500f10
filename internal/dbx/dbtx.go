// Package dbx holds the database handle shared by the repositories and the
// transaction helper the album store uses to keep an album and its
// memberships consistent.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is what a repository needs from a database handle. *sql.DB and
// *sql.Tx both satisfy it, so one repository type serves plain reads and
// transactional writes.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back when fn fails or panics; a panic is re-raised
// after the rollback.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//		repo := albums.NewSQLiteRepository(tx)
//		a, err := repo.Create(ctx, album)
//		if err != nil {
//			return err
//		}
//		_, err = repo.AddAssets(ctx, a.ID, ids, now)
//		return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}
