package source

import (
	"context"
	"time"
)

// VideoObject is a video file found in a source.
type VideoObject struct {
	Key        string // Blob store key
	Title      string // File stem
	Size       int64
	ModifiedAt time.Time
}

// Source lists video files that may not have a catalog record yet.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// FetchBatch fetches a batch of video objects starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of objects to fetch.
	// Returns:
	//   - items: batch of video objects.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []VideoObject, nextCursor string, err error)
}
