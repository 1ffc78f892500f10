package client

import (
	"context"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
)

// ManifestClient fetches the authoritative media list of a zone.
type ManifestClient interface {
	GetZoneMedia(ctx context.Context, zoneID string) ([]models.RemoteMediaRecord, error)
	Close() error
}
