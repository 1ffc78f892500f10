package albums

import (
	"context"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
)

// Repository describes album CRUD and membership queries.
type Repository interface {
	// GetByName returns common.ErrorNotFound when no album has the name.
	GetByName(ctx context.Context, name string) (*models.Album, error)

	// Create inserts album, or returns the existing album with the same name.
	Create(ctx context.Context, album *models.Album) (*models.Album, error)

	// List returns all albums with their asset counts, ordered by name.
	List(ctx context.Context) ([]*models.Album, error)

	// Delete removes the album and its membership links. Assets are kept.
	Delete(ctx context.Context, id string) error

	// AddAssets links assets to the album and returns how many links are new.
	AddAssets(ctx context.Context, albumID string, assetIDs []string, at time.Time) (int, error)

	// ListAssets returns the album's assets in insertion order. An empty
	// types slice means every type.
	ListAssets(ctx context.Context, albumID string, types []models.AssetType) ([]*models.Asset, error)
}
