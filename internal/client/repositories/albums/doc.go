// Package albums provides the persistence layer of the local album index:
// named albums and their membership links to registered assets.
//
// # Overview
//
// The package defines a Repository interface used by the album store and a
// SQLite-backed implementation (SQLiteRepository) that persists data via a
// dbx.DBTX (*sql.DB or *sql.Tx), so callers can compose several calls into
// one transaction with dbx.WithTx.
//
// Album names are unique. Create never fails on a name collision; it returns
// the album that already holds the name.
//
// Typical Usage
//
//	repo := albums.NewSQLiteRepository(db)
//	album, _ := repo.Create(ctx, &models.Album{ID: uuid.NewString(), Name: "Zone-42"})
//	_, _ = repo.AddAssets(ctx, album.ID, []string{assetID}, time.Now())
//	items, _ := repo.ListAssets(ctx, album.ID, nil)
package albums
