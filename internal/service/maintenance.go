package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/metrics"
	"github.com/timmy/cattube/internal/source"
)

// reconcilePageSize is the listing page size used by Reconcile.
const reconcilePageSize = 100

// SweepResult reports what a stale sweep did.
type SweepResult struct {
	JobID   string `json:"job_id,omitempty"`
	Resumed []uint `json:"resumed"`
	Failed  []uint `json:"failed"`
}

// Sweep finds videos stuck in a non-terminal state for longer than
// StaleAfter that no batch in this process owns and no batch in any process
// has heartbeated within StaleAfter. Videos with a task id are polled again
// in a new batch; videos that never got one are marked Error.
func (c *Coordinator) Sweep(ctx context.Context) (*SweepResult, error) {
	stale, err := c.videos.ListStale(ctx, c.now().Add(-c.cfg.StaleAfter))
	if err != nil {
		return nil, fmt.Errorf("list stale videos: %w", err)
	}

	result := &SweepResult{Resumed: []uint{}, Failed: []uint{}}
	var orphans []*domain.Video
	var resumable []uint
	for i := range stale {
		v := &stale[i]
		if c.claims.held(v.ID) {
			continue
		}
		if v.IndexTaskID == "" {
			orphans = append(orphans, v)
			continue
		}
		resumable = append(resumable, v.ID)
	}

	if len(orphans) > 0 {
		owner := "sweep:" + uuid.New().String()
		claimed := c.claims.acquire(owner, videoIDs(orphans))
		defer c.claims.release(owner, claimed)

		batch := make([]*domain.Video, 0, len(claimed))
		for _, v := range orphans {
			if contains(claimed, v.ID) && c.setStatus(v, domain.VideoStatusError) {
				batch = append(batch, v)
			}
		}
		conflicts, err := c.videos.UpdateVersioned(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("mark stale videos: %w", err)
		}
		for _, v := range batch {
			if !contains(conflicts, v.ID) {
				metrics.RecordTransition(string(v.Status))
				result.Failed = append(result.Failed, v.ID)
			}
		}
		if len(result.Failed) > 0 {
			logger.With(logger.Fields{"videos": result.Failed}).WithCount(len(result.Failed)).
				Warn(ctx, "Marked videos stuck before task creation as Error")
		}
	}

	if len(resumable) == 0 {
		return result, nil
	}

	job := c.newJob(domain.JobKindSweep)
	claimed := c.claims.acquire(job.ID, resumable)
	if len(claimed) == 0 {
		return result, nil
	}
	job.TotalItems = len(claimed)
	c.saveJob(ctx, job, true)

	task := func(ctx context.Context) {
		ctx = logger.SetJobID(logger.SetComponent(ctx, "sweep"), job.ID)
		defer c.claims.release(job.ID, claimed)
		c.startJob(ctx, job)
		metrics.ActiveBatches.Inc()
		defer metrics.ActiveBatches.Dec()
		c.pollBatch(ctx, job, claimed)
	}
	if err := c.dispatcher.Dispatch("sweep:"+job.ID, task); err != nil {
		c.claims.release(job.ID, claimed)
		c.finishJob(ctx, job, err.Error())
		return nil, err
	}

	result.JobID = job.ID
	result.Resumed = claimed
	logger.With(logger.Fields{logger.FieldJobID: job.ID}).WithCount(len(claimed)).
		Info(ctx, "Resumed polling for stale videos")
	return result, nil
}

// Reset returns Failed and Error videos to the unsubmitted state so they
// can be submitted again. Derived blobs are removed on a best effort basis.
// Videos owned by a running batch are skipped.
func (c *Coordinator) Reset(ctx context.Context, sel Selection) ([]VideoState, error) {
	videos, err := c.load(ctx, sel)
	if err != nil {
		return nil, err
	}

	owner := "reset:" + uuid.New().String()
	var eligible []uint
	for _, v := range videos {
		if v.Status == domain.VideoStatusFailed || v.Status == domain.VideoStatusError {
			eligible = append(eligible, v.ID)
		}
	}
	claimed := c.claims.acquire(owner, eligible)
	defer c.claims.release(owner, claimed)

	var batch []*domain.Video
	derived := make(map[uint][]string)
	for i := range videos {
		v := &videos[i]
		if !contains(claimed, v.ID) {
			continue
		}
		for _, key := range v.ObjectKeys() {
			if key != v.OriginalKey {
				derived[v.ID] = append(derived[v.ID], key)
			}
		}
		v.ClearIndexState()
		v.StatusUpdatedAt = c.now()
		batch = append(batch, v)
	}

	conflicts, err := c.videos.UpdateVersioned(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("reset videos: %w", err)
	}

	states := []VideoState{}
	for _, v := range batch {
		if contains(conflicts, v.ID) {
			continue
		}
		states = append(states, VideoState{ID: v.ID, Status: v.Status})
		for _, key := range derived[v.ID] {
			if err := c.store.Delete(ctx, key); err != nil {
				logger.FromContext(ctx).WithError(err).WithField("key", key).Warn("Failed to delete derived asset")
			}
		}
	}
	logger.With(logger.Fields{}).WithCount(len(states)).Info(ctx, "Reset videos")
	return states, nil
}

// Delete removes the selected videos from the blob store, then the index,
// then the database. A stage that fails stops that video and leaves it in
// place; the ids returned were removed everywhere. Anything already missing
// counts as deleted.
func (c *Coordinator) Delete(ctx context.Context, sel Selection) ([]uint, error) {
	ids := sel.IDs
	if sel.All {
		var err error
		if ids, err = c.videos.ListIDs(ctx); err != nil {
			return nil, fmt.Errorf("list videos: %w", err)
		}
	}
	videos, err := c.videos.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load videos: %w", err)
	}

	found := make(map[uint]bool, len(videos))
	for _, v := range videos {
		found[v.ID] = true
	}

	deleted := []uint{}
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if !found[id] && !seen[id] {
			deleted = append(deleted, id)
		}
		seen[id] = true
	}

	for i := range videos {
		v := &videos[i]
		if err := c.deleteOne(ctx, v); err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldVideoID, v.ID).Error("Failed to delete video")
			continue
		}
		deleted = append(deleted, v.ID)
	}
	return deleted, nil
}

func (c *Coordinator) deleteOne(ctx context.Context, v *domain.Video) error {
	for _, key := range v.ObjectKeys() {
		if err := c.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete blob %s: %w", key, err)
		}
	}

	if err := c.deleteFromIndex(ctx, v.IndexVideoID); err != nil {
		return err
	}

	if _, err := c.videos.Delete(ctx, v.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	logger.FromContext(ctx).WithField(logger.FieldVideoID, v.ID).Info("Deleted video")
	return nil
}

func (c *Coordinator) deleteFromIndex(ctx context.Context, indexVideoID string) error {
	if indexVideoID == "" {
		return nil
	}
	_, err := callGateway(ctx, c, "delete_video", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.index.DeleteVideo(ctx, indexVideoID)
	})
	if err != nil && !errors.Is(err, ErrIndexNotFound) {
		return fmt.Errorf("delete from index: %w", err)
	}
	return nil
}

// discardDerived removes what a batch produced for a video whose record was
// deleted under it. The original went with the record. Failures are logged.
func (c *Coordinator) discardDerived(ctx context.Context, v *domain.Video) {
	log := logger.FromContext(ctx).WithField(logger.FieldVideoID, v.ID)
	for _, key := range v.ObjectKeys() {
		if key == v.OriginalKey {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("Failed to delete derived asset")
		}
	}
	if err := c.deleteFromIndex(ctx, v.IndexVideoID); err != nil {
		log.WithError(err).WithField("index_video_id", v.IndexVideoID).Error("Failed to remove index video of deleted record")
	}
}

// ReconcileResult reports the records created by a reconcile run.
type ReconcileResult struct {
	JobID   string `json:"job_id"`
	Created []uint `json:"created"`
	Skipped int    `json:"skipped"`
}

// Reconcile creates a record for every file in src that no record points
// to. The title is the file stem and the upload time is the file's
// modification time.
func (c *Coordinator) Reconcile(ctx context.Context, src source.Source) (*ReconcileResult, error) {
	job := c.newJob(domain.JobKindReconcile)
	c.saveJob(ctx, job, true)
	ctx = logger.SetJobID(logger.SetComponent(ctx, "reconcile"), job.ID)
	c.startJob(ctx, job)

	result := &ReconcileResult{JobID: job.ID, Created: []uint{}}
	cursor := ""
	for {
		items, next, err := src.FetchBatch(ctx, cursor, reconcilePageSize)
		if err != nil {
			c.finishJob(ctx, job, err.Error())
			return nil, fmt.Errorf("fetch from %s: %w", src.GetSourceID(), err)
		}

		for _, item := range items {
			job.TotalItems++
			exists, err := c.videos.ExistsByOriginalKey(ctx, item.Key)
			if err != nil {
				c.finishJob(ctx, job, err.Error())
				return nil, fmt.Errorf("check %s: %w", item.Key, err)
			}
			if exists {
				result.Skipped++
				continue
			}

			video := &domain.Video{
				Title:           item.Title,
				UploadedAt:      item.ModifiedAt,
				OriginalKey:     item.Key,
				StatusUpdatedAt: c.now(),
			}
			if err := c.videos.Create(ctx, video); err != nil {
				job.FailedItems++
				appendErrorLog(job, fmt.Sprintf("%s: %v", item.Key, err))
				continue
			}
			result.Created = append(result.Created, video.ID)
		}

		if next == "" {
			break
		}
		cursor = next
	}

	errMsg := ""
	if job.FailedItems > 0 {
		errMsg = fmt.Sprintf("%d objects could not be recorded", job.FailedItems)
	}
	c.finishJob(ctx, job, errMsg)

	logger.With(logger.Fields{
		"source":  src.GetSourceID(),
		"skipped": result.Skipped,
	}).WithCount(len(result.Created)).Info(ctx, "Reconciled blob store with catalog")
	return result, nil
}
