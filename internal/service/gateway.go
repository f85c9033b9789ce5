package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/timmy/cattube/internal/domain"
)

// Gateway names used in errors, logs and metrics.
const (
	GatewayIndex      = "twelvelabs"
	GatewayTranscoder = "transloadit"
)

var (
	// ErrIndexNotFound is returned when the index has no such task or video.
	ErrIndexNotFound = errors.New("not found in video index")
	// ErrUnknownArtifact is returned for an artifact kind the index cannot serve.
	ErrUnknownArtifact = errors.New("unknown artifact kind")
)

// GatewayError is a non-2xx response from an external gateway.
type GatewayError struct {
	Gateway    string
	Operation  string
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Gateway, e.Operation, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrIndexNotFound) match 404 responses from the index.
func (e *GatewayError) Is(target error) bool {
	return target == ErrIndexNotFound && e.Gateway == GatewayIndex && e.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether a failed gateway call may succeed if repeated.
// Transport failures, throttling and server errors are; client rejections
// and cancellations are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.StatusCode == http.StatusTooManyRequests || gwErr.StatusCode >= 500
	}
	return true
}

// IndexTask is the state of one indexing task.
type IndexTask struct {
	ID      string
	Status  string
	VideoID string
}

// Clip is one matching segment of a search hit.
type Clip struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Score        float64 `json:"score"`
	Confidence   string  `json:"confidence"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// SearchGroup holds the clips of one video matching a query.
type SearchGroup struct {
	VideoID string `json:"id"`
	Clips   []Clip `json:"clips"`
}

// SearchPage is one page of grouped search results.
type SearchPage struct {
	Groups        []SearchGroup
	NextPageToken string
}

// IndexGateway is the video understanding service that indexes, describes
// and searches videos.
type IndexGateway interface {
	// CreateTask asks the index to ingest the video at videoURL.
	CreateTask(ctx context.Context, videoURL string) (string, error)
	GetTask(ctx context.Context, taskID string) (*IndexTask, error)
	// Thumbnail returns a thumbnail URL; empty when the index has none.
	Thumbnail(ctx context.Context, videoID string) (string, error)
	// Artifact returns the JSON list the index derived for kind.
	Artifact(ctx context.Context, kind domain.ArtifactKind, videoID string) (json.RawMessage, error)
	// Fetch downloads a URL handed out by the index.
	Fetch(ctx context.Context, url string) ([]byte, error)
	Search(ctx context.Context, query, pageToken string) (*SearchPage, error)
	DeleteVideo(ctx context.Context, videoID string) error
	CheckIndex(ctx context.Context) error
}

// TranscoderGateway is the upload and transcoding service.
type TranscoderGateway interface {
	GetAssembly(ctx context.Context, assemblyID string) (*Assembly, error)
}
