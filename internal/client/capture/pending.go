// Package capture holds media items produced on the device (camera or
// gallery) that are not yet part of any zone's cache.
package capture

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"github.com/dmitrijs2005/zonemedia/internal/filex"
	"github.com/gabriel-vasile/mimetype"
)

// ErrPickCanceled is returned by a Picker when the user backs out.
var ErrPickCanceled = errors.New("pick canceled")

// Picker selects one file from the device gallery and returns its path.
type Picker interface {
	Pick(ctx context.Context) (string, error)
}

type PickerFunc func(ctx context.Context) (string, error)

func (f PickerFunc) Pick(ctx context.Context) (string, error) { return f(ctx) }

// PendingList is the in-memory list of captured items awaiting upload.
type PendingList struct {
	mu    sync.Mutex
	items []models.MediaItem
}

// Add appends item unless an item with the same uri is already pending.
func (l *PendingList) Add(item models.MediaItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.URI == item.URI {
			return
		}
	}
	l.items = append(l.items, item)
}

// Remove drops the item with uri and reports whether it was pending.
func (l *PendingList) Remove(uri string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, it := range l.items {
		if it.URI == uri {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Items returns a copy of the pending items in insertion order.
func (l *PendingList) Items() []models.MediaItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.MediaItem(nil), l.items...)
}

func (l *PendingList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *PendingList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}

// OpenGallery lets the user pick one file and appends it to the list. A
// canceled pick returns (nil, nil).
func (l *PendingList) OpenGallery(ctx context.Context, p Picker) (*models.MediaItem, error) {
	path, err := p.Pick(ctx)
	if errors.Is(err, ErrPickCanceled) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item, err := ItemFromFile(path)
	if err != nil {
		return nil, err
	}
	l.Add(*item)
	return item, nil
}

// ItemFromFile builds a MediaItem for a local file, deciding image or video
// from its content. Audio and anything else is rejected.
func ItemFromFile(path string) (*models.MediaItem, error) {
	if !filex.Exists(path) {
		return nil, errx.New(errx.CodeValidation, "no such file: "+path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, errx.Wrap(errx.CodeLocalStoreFailed, err, "detect media type")
	}

	kind, ok := models.MediaTypeFromMIME(mt.String())
	if !ok {
		kind, ok = kindFromExt(path)
	}
	if !ok {
		return nil, errx.New(errx.CodeValidation, "unsupported media type "+mt.String())
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errx.Wrap(errx.CodeValidation, err, "resolve path")
	}
	return &models.MediaItem{Type: kind, URI: filex.FileURI(abs)}, nil
}

func kindFromExt(path string) (models.MediaType, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "jpg", "jpeg", "png", "heic", "gif", "webp":
		return models.MediaTypeImage, true
	case "mp4", "mov", "m4v", "webm", "3gp":
		return models.MediaTypeVideo, true
	}
	return "", false
}
