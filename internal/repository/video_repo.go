package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/cattube/internal/domain"
	"gorm.io/gorm"
)

// VideoRepository handles video record operations.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *VideoRepository: repository instance bound to db.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Create inserts a new video record; the store assigns its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - video: record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *VideoRepository) Create(ctx context.Context, video *domain.Video) error {
	return r.db.WithContext(ctx).Create(video).Error
}

// GetByID retrieves a video by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: record ID.
// Returns:
//   - *domain.Video: record if found.
//   - error: ErrNotFound when absent.
func (r *VideoRepository) GetByID(ctx context.Context, id uint) (*domain.Video, error) {
	var video domain.Video
	if err := r.db.WithContext(ctx).First(&video, id).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

// GetByIDs loads every record among ids in one query. Unknown ids are
// silently absent from the result.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: record IDs.
// Returns:
//   - []domain.Video: matching records ordered by ID.
//   - error: non-nil if the query fails.
func (r *VideoRepository) GetByIDs(ctx context.Context, ids []uint) ([]domain.Video, error) {
	var videos []domain.Video
	if len(ids) == 0 {
		return videos, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&videos).Error
	return videos, err
}

// GetByAssemblyID retrieves the video produced by a transcoder assembly.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - assemblyID: transcoder assembly ID.
// Returns:
//   - *domain.Video: record if found.
//   - error: ErrNotFound when absent.
func (r *VideoRepository) GetByAssemblyID(ctx context.Context, assemblyID string) (*domain.Video, error) {
	var video domain.Video
	if err := r.db.WithContext(ctx).First(&video, "assembly_id = ?", assemblyID).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

// GetByIndexVideoIDs loads records by their index video IDs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - indexVideoIDs: IDs assigned by the video index.
// Returns:
//   - map[string]domain.Video: records keyed by index video ID.
//   - error: non-nil if the query fails.
func (r *VideoRepository) GetByIndexVideoIDs(ctx context.Context, indexVideoIDs []string) (map[string]domain.Video, error) {
	result := make(map[string]domain.Video, len(indexVideoIDs))
	if len(indexVideoIDs) == 0 {
		return result, nil
	}
	var videos []domain.Video
	if err := r.db.WithContext(ctx).Where("index_video_id IN ?", indexVideoIDs).Find(&videos).Error; err != nil {
		return nil, err
	}
	for _, v := range videos {
		result[v.IndexVideoID] = v
	}
	return result, nil
}

// List returns a page of videos, most recently uploaded first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of rows.
//   - offset: number of rows to skip.
// Returns:
//   - []domain.Video: page of records.
//   - int64: total number of records.
//   - error: non-nil if the query fails.
func (r *VideoRepository) List(ctx context.Context, limit, offset int) ([]domain.Video, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.Video{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var videos []domain.Video
	err := r.db.WithContext(ctx).
		Order("uploaded_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&videos).Error
	return videos, total, err
}

// ListIDs returns the IDs of every video.
func (r *VideoRepository) ListIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&domain.Video{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

// ListStale returns in-flight videos whose status has not changed since
// before and that no batch has polled since before.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - before: cutoff on status_updated_at and polled_at.
// Returns:
//   - []domain.Video: stale records.
//   - error: non-nil if the query fails.
func (r *VideoRepository) ListStale(ctx context.Context, before time.Time) ([]domain.Video, error) {
	var videos []domain.Video
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []domain.VideoStatus{
			domain.VideoStatusNew,
			domain.VideoStatusReady,
			domain.VideoStatusFailed,
			domain.VideoStatusError,
		}).
		Where("status_updated_at < ?", before).
		Where("(polled_at IS NULL OR polled_at < ?)", before).
		Order("id ASC").
		Find(&videos).Error
	return videos, err
}

// TouchPolled records a polling heartbeat on ids. It leaves Version alone so
// it never causes a compare-and-swap conflict.
func (r *VideoRepository) TouchPolled(ctx context.Context, ids []uint, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.Video{}).
		Where("id IN ?", ids).
		UpdateColumn("polled_at", at).Error
}

// ExistsByOriginalKey checks whether any record points at the object key.
func (r *VideoRepository) ExistsByOriginalKey(ctx context.Context, key string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Video{}).Where("original_key = ?", key).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Delete removes a record. Deleting a missing record is not an error.
// Returns whether a row was removed.
func (r *VideoRepository) Delete(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&domain.Video{}, id)
	return res.RowsAffected > 0, res.Error
}

// UpdateVersioned writes the ingestion fields of every video in one
// transaction. Each row is compare-and-swapped on Version; rows that changed
// since they were read are skipped and reported in conflicts. Written rows
// get their in-memory Version bumped.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - videos: records carrying the Version they were read at.
// Returns:
//   - []uint: IDs of rows that were not written.
//   - error: non-nil if the transaction fails.
func (r *VideoRepository) UpdateVersioned(ctx context.Context, videos []*domain.Video) ([]uint, error) {
	if len(videos) == 0 {
		return nil, nil
	}

	var conflicts []uint
	written := make([]*domain.Video, 0, len(videos))
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range videos {
			res := tx.Model(&domain.Video{}).
				Where("id = ? AND version = ?", v.ID, v.Version).
				Updates(ingestColumns(v, now))
			if res.Error != nil {
				return fmt.Errorf("update video %d: %w", v.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				conflicts = append(conflicts, v.ID)
				continue
			}
			written = append(written, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, v := range written {
		v.Version++
		v.UpdatedAt = now
	}
	return conflicts, nil
}

// UpdateOne is UpdateVersioned for a single record.
// Returns ErrVersionConflict when the row changed since it was read.
func (r *VideoRepository) UpdateOne(ctx context.Context, video *domain.Video) error {
	conflicts, err := r.UpdateVersioned(ctx, []*domain.Video{video})
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return ErrVersionConflict
	}
	return nil
}

// ingestColumns lists the fields the ingest coordinator owns. A map is used
// so empty strings are written.
func ingestColumns(v *domain.Video, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"assembly_id":       v.AssemblyID,
		"index_task_id":     v.IndexTaskID,
		"index_video_id":    v.IndexVideoID,
		"status":            v.Status,
		"status_updated_at": v.StatusUpdatedAt,
		"original_key":      v.OriginalKey,
		"thumbnail_key":     v.ThumbnailKey,
		"transcript_key":    v.TranscriptKey,
		"text_key":          v.TextKey,
		"logo_key":          v.LogoKey,
		"version":           v.Version + 1,
		"updated_at":        now,
	}
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
