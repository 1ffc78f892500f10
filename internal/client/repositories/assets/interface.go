// Package assets persists the records of files registered in the local
// media library.
package assets

import (
	"context"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
)

// Repository describes CRUD operations for Asset records.
type Repository interface {
	Create(ctx context.Context, asset *models.Asset) error

	// GetByID returns common.ErrorNotFound for an unknown id.
	GetByID(ctx context.Context, id string) (*models.Asset, error)

	// Delete removes the asset and every album link to it.
	Delete(ctx context.Context, id string) error

	// ListOrphans returns assets that belong to no album.
	ListOrphans(ctx context.Context) ([]*models.Asset, error)
}
