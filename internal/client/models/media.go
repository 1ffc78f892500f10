package models

import (
	"strings"

	"github.com/dmitrijs2005/zonemedia/internal/common"
)

// MediaType is the coarse kind of a renderable media item.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// ContentType is the MIME type used when the item is uploaded.
func (t MediaType) ContentType() string {
	if t == MediaTypeVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

// MediaItem is a photo or video either pending upload (URI points at a
// device-local temporary file) or served from the zone cache (URI points at
// a file inside the local library).
type MediaItem struct {
	Type MediaType `json:"type"`
	URI  string    `json:"uri"`
}

func (m MediaItem) ContentType() string { return m.Type.ContentType() }

// RemoteMediaRecord is one manifest entry published by the media service.
type RemoteMediaRecord struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType"`
}

// Kind maps the record's MIME-like type onto a MediaType. Bare "image" and
// "video" are accepted. ok is false for audio and anything unrecognized.
func (r RemoteMediaRecord) Kind() (MediaType, bool) {
	return MediaTypeFromMIME(r.MediaType)
}

// IsAudio reports whether the record is an audio attachment.
func (r RemoteMediaRecord) IsAudio() bool {
	mt := strings.ToLower(strings.TrimSpace(r.MediaType))
	return mt == "audio" || strings.HasPrefix(mt, "audio/")
}

func MediaTypeFromMIME(mime string) (MediaType, bool) {
	mt := strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mt == "image" || strings.HasPrefix(mt, "image/"):
		return MediaTypeImage, true
	case mt == "video" || strings.HasPrefix(mt, "video/"):
		return MediaTypeVideo, true
	default:
		return "", false
	}
}

// Zone is the subset of a zone report the cache needs.
type Zone struct {
	ID       string `json:"id"`
	MarkedBy string `json:"markedBy"`
}

// OwnedBy reports whether userID authored the zone.
func (z *Zone) OwnedBy(userID string) bool {
	return z != nil && userID != "" && z.MarkedBy == userID
}

// AlbumName is the deterministic local album name for a zone.
func AlbumName(zoneID string) string {
	return common.AlbumPrefix + zoneID
}

// ZoneIDFromAlbum reverses AlbumName; ok is false for foreign albums.
func ZoneIDFromAlbum(name string) (string, bool) {
	if !strings.HasPrefix(name, common.AlbumPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(name, common.AlbumPrefix)
	return id, id != ""
}
