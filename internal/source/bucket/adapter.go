package bucket

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/timmy/cattube/internal/source"
	"github.com/timmy/cattube/internal/storage"
)

// Adapter implements the Source interface for files directly under a blob
// store prefix. Objects in deeper folders, such as transcoder output under
// <prefix><assembly id>/, are left out.
type Adapter struct {
	store  storage.ObjectStorage
	prefix string
}

// NewAdapter creates a new bucket adapter.
// Parameters:
//   - store: blob store to list.
//   - prefix: folder holding uploaded videos, e.g. "video/".
// Returns:
//   - *Adapter: initialized bucket adapter.
func NewAdapter(store storage.ObjectStorage, prefix string) *Adapter {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Adapter{store: store, prefix: prefix}
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "bucket:" + a.prefix
}

// FetchBatch lists one page of objects and keeps the direct children of the
// prefix. A page may hold fewer than limit items; iteration ends when the
// returned cursor is empty.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cursor: store listing cursor.
//   - limit: page size passed to the store.
// Returns:
//   - []source.VideoObject: files found on this page.
//   - string: next cursor or empty if no more objects.
//   - error: non-nil if listing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.VideoObject, string, error) {
	objects, next, err := a.store.List(ctx, a.prefix, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list %s: %w", a.prefix, err)
	}

	items := make([]source.VideoObject, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, a.prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		items = append(items, source.VideoObject{
			Key:        obj.Key,
			Title:      strings.TrimSuffix(name, path.Ext(name)),
			Size:       obj.Size,
			ModifiedAt: obj.LastModified,
		})
	}
	return items, next, nil
}
