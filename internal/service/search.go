package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/repository"
	"github.com/timmy/cattube/internal/storage"
)

// DefaultPageSize is the number of videos per list or search page.
const DefaultPageSize = 12

// ErrArtifactMissing is returned when a video has no stored artifact of the
// requested kind.
var ErrArtifactMissing = errors.New("artifact not available")

// CatalogConfig holds configuration for the read side of the catalog.
type CatalogConfig struct {
	PageSize int
	// SearchMaxPages bounds how many remote result pages one search reads.
	SearchMaxPages int
}

// CatalogService serves listings, details, status polls, artifacts and
// search. It never writes records.
type CatalogService struct {
	videos   *repository.VideoRepository
	index    IndexGateway
	store    storage.ObjectStorage
	urls     *storage.URLCache
	pageSize int
	maxPages int
}

// NewCatalogService creates a new catalog service.
// Parameters:
//   - videos: video record store.
//   - index: video index used for search.
//   - store: blob store holding originals and artifacts.
//   - urls: signed URL cache over store.
//   - cfg: paging settings.
//
// Returns:
//   - *CatalogService: initialized catalog service.
func NewCatalogService(
	videos *repository.VideoRepository,
	index IndexGateway,
	store storage.ObjectStorage,
	urls *storage.URLCache,
	cfg *CatalogConfig,
) *CatalogService {
	pageSize, maxPages := DefaultPageSize, 10
	if cfg != nil {
		if cfg.PageSize > 0 {
			pageSize = cfg.PageSize
		}
		if cfg.SearchMaxPages > 0 {
			maxPages = cfg.SearchMaxPages
		}
	}
	return &CatalogService{
		videos:   videos,
		index:    index,
		store:    store,
		urls:     urls,
		pageSize: pageSize,
		maxPages: maxPages,
	}
}

// VideoView is a record with signed links to its thumbnail and original.
type VideoView struct {
	domain.Video
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	OriginalURL  string `json:"original_url,omitempty"`
}

// VideoPage is one page of videos.
type VideoPage struct {
	Videos     []VideoView `json:"videos"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
}

// StatusView is the polled state of one video.
type StatusView struct {
	ID           uint               `json:"id"`
	Status       domain.VideoStatus `json:"status"`
	ThumbnailURL string             `json:"thumbnail_url,omitempty"`
	OriginalURL  string             `json:"original_url,omitempty"`
}

// SearchHit is a local video matching a query, with its matching clips.
type SearchHit struct {
	VideoView
	Clips []Clip `json:"clips"`
}

// SearchResults is one local page of search hits.
type SearchResults struct {
	Query      string      `json:"query"`
	Results    []SearchHit `json:"results"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	Total      int         `json:"total"`
	TotalPages int         `json:"total_pages"`
}

// sign returns a signed URL for key, or "" when it cannot be produced.
func (s *CatalogService) sign(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	url, err := s.urls.SignedURL(ctx, key)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("key", key).Warn("Failed to sign URL")
		return ""
	}
	return url
}

func (s *CatalogService) view(ctx context.Context, v domain.Video) VideoView {
	return VideoView{
		Video:        v,
		ThumbnailURL: s.sign(ctx, v.ThumbnailKey),
		OriginalURL:  s.sign(ctx, v.OriginalKey),
	}
}

func pageCount(total int64, size int) int {
	return int((total + int64(size) - 1) / int64(size))
}

// List returns one page of videos, newest upload first. Pages start at 1.
func (s *CatalogService) List(ctx context.Context, page int) (*VideoPage, error) {
	if page < 1 {
		page = 1
	}
	videos, total, err := s.videos.List(ctx, s.pageSize, (page-1)*s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}

	views := make([]VideoView, 0, len(videos))
	for _, v := range videos {
		views = append(views, s.view(ctx, v))
	}
	return &VideoPage{
		Videos:     views,
		Page:       page,
		PageSize:   s.pageSize,
		Total:      total,
		TotalPages: pageCount(total, s.pageSize),
	}, nil
}

// Detail returns one video. It returns repository.ErrNotFound when absent.
func (s *CatalogService) Detail(ctx context.Context, id uint) (*VideoView, error) {
	v, err := s.videos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.view(ctx, *v)
	return &view, nil
}

// Status returns the current state of each known id, in id order. Unknown
// ids are left out.
func (s *CatalogService) Status(ctx context.Context, ids []uint) ([]StatusView, error) {
	videos, err := s.videos.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load videos: %w", err)
	}
	out := make([]StatusView, 0, len(videos))
	for _, v := range videos {
		out = append(out, StatusView{
			ID:           v.ID,
			Status:       v.Status,
			ThumbnailURL: s.sign(ctx, v.ThumbnailKey),
			OriginalURL:  s.sign(ctx, v.OriginalKey),
		})
	}
	return out, nil
}

// OpenArtifact streams the stored JSON artifact of a video. The caller
// closes the reader.
// Returns repository.ErrNotFound for an unknown video and ErrArtifactMissing
// when the artifact was never stored.
func (s *CatalogService) OpenArtifact(ctx context.Context, id uint, kind domain.ArtifactKind) (io.ReadCloser, error) {
	v, err := s.videos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	key := v.ArtifactKey(kind)
	if key == "" {
		return nil, ErrArtifactMissing
	}
	rc, err := s.store.Download(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrArtifactMissing
	}
	return rc, err
}

// Search queries the index and joins the hits to local videos by index
// video id. Remote pages are read up to SearchMaxPages, then the joined
// hits are paged locally. Hits without a local video are skipped.
func (s *CatalogService) Search(ctx context.Context, query string, page int) (*SearchResults, error) {
	query = strings.TrimSpace(query)
	if page < 1 {
		page = 1
	}
	results := &SearchResults{Query: query, Results: []SearchHit{}, Page: page, PageSize: s.pageSize}
	if query == "" {
		return results, nil
	}

	var groups []SearchGroup
	token := ""
	for i := 0; i < s.maxPages; i++ {
		p, err := s.index.Search(ctx, query, token)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		groups = append(groups, p.Groups...)
		token = p.NextPageToken
		if token == "" {
			break
		}
	}
	if token != "" {
		logger.FromContext(ctx).WithField("query", query).Warnf("Search results truncated after %d pages", s.maxPages)
	}

	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.VideoID)
	}
	local, err := s.videos.GetByIndexVideoIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("join search results: %w", err)
	}

	var hits []SearchGroup
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if _, ok := local[g.VideoID]; !ok {
			logger.FromContext(ctx).WithField("index_video_id", g.VideoID).Info("Search hit has no local video, skipping")
			continue
		}
		if seen[g.VideoID] {
			continue
		}
		seen[g.VideoID] = true
		hits = append(hits, g)
	}

	results.Total = len(hits)
	results.TotalPages = pageCount(int64(len(hits)), s.pageSize)
	start := (page - 1) * s.pageSize
	if start >= len(hits) {
		return results, nil
	}
	end := min(start+s.pageSize, len(hits))
	for _, g := range hits[start:end] {
		clips := g.Clips
		if clips == nil {
			clips = []Clip{}
		}
		results.Results = append(results.Results, SearchHit{
			VideoView: s.view(ctx, local[g.VideoID]),
			Clips:     clips,
		})
	}
	return results, nil
}
