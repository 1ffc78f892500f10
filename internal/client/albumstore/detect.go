package albumstore

import (
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/gabriel-vasile/mimetype"
)

var typesByExt = map[string]models.AssetType{
	".jpg": models.AssetTypePhoto, ".jpeg": models.AssetTypePhoto, ".png": models.AssetTypePhoto,
	".heic": models.AssetTypePhoto, ".heif": models.AssetTypePhoto, ".gif": models.AssetTypePhoto,
	".webp": models.AssetTypePhoto,
	".mp4": models.AssetTypeVideo, ".mov": models.AssetTypeVideo, ".m4v": models.AssetTypeVideo,
	".webm": models.AssetTypeVideo, ".3gp": models.AssetTypeVideo,
	".m4a": models.AssetTypeAudio, ".mp3": models.AssetTypeAudio, ".aac": models.AssetTypeAudio,
	".wav": models.AssetTypeAudio, ".caf": models.AssetTypeAudio,
}

// DetectAssetType sniffs the file content and falls back to the extension
// when the content is not recognized.
func DetectAssetType(path string) models.AssetType {
	if mt, err := mimetype.DetectFile(path); err == nil {
		if t := assetTypeFromMIME(mt.String()); t != models.AssetTypeUnknown {
			return t
		}
	}
	return assetTypeFromExt(path)
}

func assetTypeFromMIME(mime string) models.AssetType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.AssetTypePhoto
	case strings.HasPrefix(mime, "video/"):
		return models.AssetTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return models.AssetTypeAudio
	default:
		return models.AssetTypeUnknown
	}
}

func assetTypeFromExt(path string) models.AssetType {
	if t, ok := typesByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return models.AssetTypeUnknown
}
