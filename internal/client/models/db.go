// Package models defines the data types shared by the zone media cache:
// renderable media items, manifest records, local albums and assets, and
// download checkpoints.
package models

import "time"

// AssetType is the coarse media type recorded for a local asset.
type AssetType string

const (
	AssetTypePhoto   AssetType = "photo"
	AssetTypeVideo   AssetType = "video"
	AssetTypeAudio   AssetType = "audio"
	AssetTypeUnknown AssetType = "unknown"
)

// MediaType maps photo to Image and everything else to Video.
func (t AssetType) MediaType() MediaType {
	if t == AssetTypePhoto {
		return MediaTypeImage
	}
	return MediaTypeVideo
}

// Album is a named grouping of assets in the local library.
type Album struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	AssetCount int
}

// Asset is a file registered in the local library. URI is always a
// file:// URI that resolves without network access.
type Asset struct {
	ID        string
	URI       string
	Filename  string
	Type      AssetType
	SizeBytes int64
	CreatedAt time.Time
}

func (a *Asset) MediaItem() MediaItem {
	return MediaItem{Type: a.Type.MediaType(), URI: a.URI}
}

// Checkpoint is the durable state of a resumable download.
type Checkpoint struct {
	ID                string    `json:"id"`
	Source            string    `json:"source"`
	Filename          string    `json:"filename"`
	Progress          float64   `json:"progress"`
	TotalBytesWritten int64     `json:"totalBytesWritten"`
	BytesExpected     int64     `json:"bytesExpected"`
	Paused            bool      `json:"paused"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
