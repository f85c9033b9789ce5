package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/metrics"
	"github.com/timmy/cattube/internal/repository"
	"github.com/timmy/cattube/internal/retry"
	"github.com/timmy/cattube/internal/storage"
	"golang.org/x/sync/semaphore"
)

// CoordinatorConfig holds the timing and layout settings of the pipeline.
type CoordinatorConfig struct {
	// PollInterval and MaxPollDuration bound index task polling. A zero
	// MaxPollDuration polls until every task finishes.
	PollInterval    time.Duration
	MaxPollDuration time.Duration

	AssemblyPollInterval    time.Duration
	AssemblyMaxPollDuration time.Duration

	// SignedURLTTL is the lifetime of the original video URL handed to the index.
	SignedURLTTL time.Duration
	StaleAfter   time.Duration
	VideoPrefix  string

	Retry              retry.Policy
	AuditNotifications bool

	// GatewayConcurrency caps gateway calls in flight across all batches.
	GatewayConcurrency int
}

// Coordinator drives videos from upload through transcoding, indexing and
// derived asset extraction. It is the only writer of ingest fields.
type Coordinator struct {
	videos        *repository.VideoRepository
	jobs          *repository.JobRepository
	notifications *repository.NotificationRepository
	store         storage.ObjectStorage
	index         IndexGateway
	transcoder    TranscoderGateway
	dispatcher    Dispatcher
	claims        *claimSet
	gatewaySlots  *semaphore.Weighted
	cfg           CoordinatorConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator wires the pipeline to its collaborators.
// Parameters:
//   - videos, jobs, notifications: record stores.
//   - store: blob store holding originals and derived assets.
//   - index: video index gateway.
//   - transcoder: transcoder gateway.
//   - dispatcher: runs batches in the background.
//   - cfg: pipeline timing.
//
// Returns:
//   - *Coordinator: ready to accept work.
func NewCoordinator(
	videos *repository.VideoRepository,
	jobs *repository.JobRepository,
	notifications *repository.NotificationRepository,
	store storage.ObjectStorage,
	index IndexGateway,
	transcoder TranscoderGateway,
	dispatcher Dispatcher,
	cfg CoordinatorConfig,
) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.AssemblyPollInterval <= 0 {
		cfg.AssemblyPollInterval = 5 * time.Second
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 24 * time.Hour
	}
	if cfg.VideoPrefix == "" {
		cfg.VideoPrefix = "video/"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.GatewayConcurrency <= 0 {
		cfg.GatewayConcurrency = 4
	}
	return &Coordinator{
		videos:        videos,
		jobs:          jobs,
		notifications: notifications,
		store:         store,
		index:         index,
		transcoder:    transcoder,
		dispatcher:    dispatcher,
		claims:        newClaimSet(),
		gatewaySlots:  semaphore.NewWeighted(int64(cfg.GatewayConcurrency)),
		cfg:           cfg,
		now:           time.Now,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Selection picks videos by id, or every video when All is set.
type Selection struct {
	IDs []uint `json:"ids"`
	All bool   `json:"all"`
}

// Empty reports whether the selection names nothing.
func (s Selection) Empty() bool {
	return !s.All && len(s.IDs) == 0
}

// VideoState is the id and status of one video.
type VideoState struct {
	ID     uint               `json:"id"`
	Status domain.VideoStatus `json:"status"`
}

// SubmitResult lists the videos a submission moved to Sending.
type SubmitResult struct {
	JobID  string       `json:"job_id,omitempty"`
	Videos []VideoState `json:"videos"`
}

func (c *Coordinator) load(ctx context.Context, sel Selection) ([]domain.Video, error) {
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
	return videos, nil
}

// Submit sends every selected video that has an original and has never been
// submitted to the index. Chosen videos are persisted as Sending before
// Submit returns; task creation and polling continue in the background.
// Videos already in flight or terminal are skipped.
func (c *Coordinator) Submit(ctx context.Context, sel Selection) (*SubmitResult, error) {
	videos, err := c.load(ctx, sel)
	if err != nil {
		return nil, err
	}

	var candidates []uint
	byID := make(map[uint]*domain.Video, len(videos))
	for i := range videos {
		v := &videos[i]
		if v.Status != domain.VideoStatusNew || v.OriginalKey == "" {
			continue
		}
		byID[v.ID] = v
		candidates = append(candidates, v.ID)
	}

	result := &SubmitResult{Videos: []VideoState{}}
	if len(candidates) == 0 {
		return result, nil
	}

	job := c.newJob(domain.JobKindIndex)
	claimed := c.claims.acquire(job.ID, candidates)
	if len(claimed) == 0 {
		return result, nil
	}

	now := c.now()
	batch := make([]*domain.Video, 0, len(claimed))
	for _, id := range claimed {
		v := byID[id]
		v.Status = domain.VideoStatusSending
		v.StatusUpdatedAt = now
		batch = append(batch, v)
	}

	conflicts, err := c.videos.UpdateVersioned(ctx, batch)
	if err != nil {
		c.claims.release(job.ID, claimed)
		return nil, fmt.Errorf("mark videos sending: %w", err)
	}
	if len(conflicts) > 0 {
		metrics.VersionConflictsTotal.Add(float64(len(conflicts)))
		c.claims.release(job.ID, conflicts)
		batch = without(batch, conflicts)
	}
	if len(batch) == 0 {
		return result, nil
	}

	job.TotalItems = len(batch)
	c.saveJob(ctx, job, true)

	// The batch belongs to the worker once dispatched.
	for _, v := range batch {
		result.Videos = append(result.Videos, VideoState{ID: v.ID, Status: v.Status})
	}

	task := func(ctx context.Context) { c.runIndexBatch(ctx, job, batch) }
	if err := c.dispatcher.Dispatch("index:"+job.ID, task); err != nil {
		c.abandonSubmission(ctx, job, batch, err)
		return nil, err
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(domain.VideoStatusSending)).Add(float64(len(result.Videos)))
	result.JobID = job.ID

	logger.With(logger.Fields{logger.FieldJobID: job.ID}).
		WithCount(len(result.Videos)).
		Info(ctx, "Submitted videos for indexing")
	return result, nil
}

// abandonSubmission puts videos back to the unsubmitted state when the batch
// could not be queued.
func (c *Coordinator) abandonSubmission(ctx context.Context, job *domain.IngestJob, batch []*domain.Video, cause error) {
	ids := make([]uint, 0, len(batch))
	for _, v := range batch {
		v.Status = domain.VideoStatusNew
		v.StatusUpdatedAt = c.now()
		ids = append(ids, v.ID)
	}
	if _, err := c.videos.UpdateVersioned(ctx, batch); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to revert videos after dispatch failure")
	}
	c.claims.release(job.ID, ids)
	c.finishJob(ctx, job, cause.Error())
}

// runIndexBatch creates an index task per video and then polls the batch.
func (c *Coordinator) runIndexBatch(ctx context.Context, job *domain.IngestJob, batch []*domain.Video) {
	ctx = logger.SetJobID(logger.SetComponent(ctx, "ingest"), job.ID)
	ids := videoIDs(batch)
	defer c.claims.release(job.ID, ids)

	c.startJob(ctx, job)
	metrics.ActiveBatches.Inc()
	defer metrics.ActiveBatches.Dec()

	var submitted []uint
	for _, v := range batch {
		taskID, err := c.createTask(ctx, v)
		if err != nil {
			if ctx.Err() != nil {
				c.finishJob(context.WithoutCancel(ctx), job, "interrupted by shutdown")
				return
			}
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldVideoID, v.ID).
				Error("Index rejected video, marking Error")
			v.Status = domain.VideoStatusError
			v.StatusUpdatedAt = c.now()
			job.FailedItems++
			appendErrorLog(job, fmt.Sprintf("video %d: %v", v.ID, err))
			continue
		}
		v.IndexTaskID = taskID
		submitted = append(submitted, v.ID)
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldVideoID: v.ID,
			logger.FieldTaskID:  taskID,
		}).Info("Created index task")
	}

	// Persisting the task ids lets the stale sweep resume after a crash.
	conflicts, err := c.videos.UpdateVersioned(ctx, batch)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to persist index tasks")
	}
	for _, v := range batch {
		if v.Status == domain.VideoStatusError && !contains(conflicts, v.ID) {
			metrics.RecordTransition(string(v.Status))
		}
	}
	if len(conflicts) > 0 {
		metrics.VersionConflictsTotal.Add(float64(len(conflicts)))
		logger.FromContext(ctx).Warnf("Videos %v changed while submitting, leaving them to their new owner", conflicts)
		submitted = subtract(submitted, conflicts)
	}

	c.pollBatch(ctx, job, submitted)
}

func (c *Coordinator) createTask(ctx context.Context, v *domain.Video) (string, error) {
	url, err := c.store.SignedURL(ctx, v.OriginalKey, c.cfg.SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign original %s: %w", v.OriginalKey, err)
	}
	return callGateway(ctx, c, "create_task", func(ctx context.Context) (string, error) {
		return c.index.CreateTask(ctx, url)
	})
}

// callGateway retries fn while its errors are transient. Each attempt holds
// one of the coordinator's gateway slots; backoff does not.
func callGateway[T any](ctx context.Context, c *Coordinator, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context, attempt int) (T, error) {
		if err := c.gatewaySlots.Acquire(ctx, 1); err != nil {
			var zero T
			return zero, retry.Permanent(err)
		}
		v, err := fn(ctx)
		c.gatewaySlots.Release(1)
		if err != nil && !IsRetryable(err) {
			return v, retry.Permanent(err)
		}
		return v, err
	}, func(attempt int, err error, delay time.Duration) {
		logger.FromContext(ctx).WithError(err).WithFields(logger.Fields{
			"operation":   op,
			"attempt":     attempt,
			"retry_in_ms": delay.Milliseconds(),
		}).Warn("Gateway call failed, retrying")
	})
}

// pollBatch follows the index tasks of ids until every video is terminal or
// MaxPollDuration passes. The batch is read from the store once; after that
// only rows that lost a compare-and-swap are reloaded.
func (c *Coordinator) pollBatch(ctx context.Context, job *domain.IngestJob, ids []uint) {
	defer c.completeJob(ctx, job, ids)
	if len(ids) == 0 {
		return
	}

	loaded, err := c.videos.GetByIDs(ctx, ids)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to load batch, leaving it to the stale sweep")
		return
	}
	batch := make(map[uint]*domain.Video, len(loaded))
	for i := range loaded {
		v := &loaded[i]
		if !v.Status.IsTerminal() && v.IndexTaskID != "" {
			batch[v.ID] = v
		}
	}

	start := c.now()
	var lastBeat time.Time
	dirty := make(map[uint]*domain.Video)
	logger.With(logger.Fields{}).WithCount(len(batch)).Info(ctx, "Polling index tasks")

	for {
		if c.now().Sub(lastBeat) >= c.heartbeatInterval() {
			c.heartbeat(ctx, batch)
			lastBeat = c.now()
		}

		for _, v := range batch {
			if v.Status.IsTerminal() {
				continue
			}
			if c.pollOne(ctx, v) {
				dirty[v.ID] = v
			}
			if ctx.Err() != nil {
				return
			}
		}

		c.flush(ctx, batch, dirty)

		if len(dirty) == 0 && allTerminal(batch) {
			return
		}

		if c.cfg.MaxPollDuration > 0 && c.now().Sub(start) >= c.cfg.MaxPollDuration {
			c.failStragglers(ctx, batch, dirty)
			return
		}

		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return
		}
	}
}

// heartbeatInterval keeps polled_at well inside StaleAfter, so a sweep in
// another process leaves a live batch alone.
func (c *Coordinator) heartbeatInterval() time.Duration {
	if every := c.cfg.StaleAfter / 4; every > c.cfg.PollInterval {
		return every
	}
	return c.cfg.PollInterval
}

func (c *Coordinator) heartbeat(ctx context.Context, batch map[uint]*domain.Video) {
	var ids []uint
	for id, v := range batch {
		if !v.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	if err := c.videos.TouchPolled(ctx, ids, c.now()); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to record polling heartbeat")
	}
}

// pollOne fetches the task state of v and applies it. It reports whether v
// changed.
func (c *Coordinator) pollOne(ctx context.Context, v *domain.Video) bool {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldVideoID: v.ID,
		logger.FieldTaskID:  v.IndexTaskID,
	})

	task, err := callGateway(ctx, c, "get_task", func(ctx context.Context) (*IndexTask, error) {
		return c.index.GetTask(ctx, v.IndexTaskID)
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, ErrIndexNotFound) {
			log.WithError(err).Error("Index task vanished, marking Error")
			return c.setStatus(v, domain.VideoStatusError)
		}
		// Unlike a pending task, this is surfaced as a gateway error.
		log.WithError(err).WithField(logger.FieldGateway, GatewayIndex).Error("Index status unavailable")
		return false
	}

	return c.apply(ctx, v, task)
}

// apply moves v to the task's state unless that would move it backwards.
func (c *Coordinator) apply(ctx context.Context, v *domain.Video, task *IndexTask) bool {
	if v.Status.Matches(task.Status) {
		return false
	}

	next := domain.StatusFromRemote(task.Status)
	if !domain.CanAdvance(v.Status, next) {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldVideoID: v.ID,
			"current":           v.Status,
			"reported":          task.Status,
		}).Debug("Ignoring out of order task status")
		return false
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldVideoID: v.ID,
		"from":              v.Status,
		"to":                next,
	}).Info("Updating video status")

	if strings.EqualFold(task.Status, domain.RemoteStatusReady) {
		v.IndexVideoID = task.VideoID
		c.fetchDerivedAssets(ctx, v)
	}
	return c.setStatus(v, next)
}

func (c *Coordinator) setStatus(v *domain.Video, status domain.VideoStatus) bool {
	if !domain.CanAdvance(v.Status, status) {
		return false
	}
	v.Status = status
	v.StatusUpdatedAt = c.now()
	return true
}

// flush writes dirty rows in one transaction. Written rows leave dirty; rows
// that lost the compare-and-swap are reloaded into the batch, or dropped if
// deleted or taken over by another task. Derived blobs and the index video
// of a deleted row are removed. Rows stay dirty when the write
// itself fails.
func (c *Coordinator) flush(ctx context.Context, batch, dirty map[uint]*domain.Video) {
	if len(dirty) == 0 {
		return
	}
	rows := make([]*domain.Video, 0, len(dirty))
	for _, v := range dirty {
		rows = append(rows, v)
	}

	start := c.now()
	conflicts, err := c.videos.UpdateVersioned(ctx, rows)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to write batch, will retry next tick")
		return
	}

	for _, v := range rows {
		delete(dirty, v.ID)
		if !contains(conflicts, v.ID) {
			metrics.RecordTransition(string(v.Status))
		}
	}
	logger.With(logger.Fields{}).WithSince(start).WithCount(len(rows) - len(conflicts)).
		Debug(ctx, "Batch written")

	if len(conflicts) == 0 {
		return
	}
	metrics.VersionConflictsTotal.Add(float64(len(conflicts)))

	fresh, err := c.videos.GetByIDs(ctx, conflicts)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to reload conflicting videos")
		return
	}
	reloaded := make(map[uint]domain.Video, len(fresh))
	for _, v := range fresh {
		reloaded[v.ID] = v
	}
	for _, id := range conflicts {
		v, ok := reloaded[id]
		switch {
		case !ok:
			// Deleted while polling: whatever this batch produced since has no owner.
			logger.FromContext(ctx).WithField(logger.FieldVideoID, id).Warn("Video deleted while polling, discarding its derived state")
			c.discardDerived(ctx, batch[id])
			delete(batch, id)
		case v.IndexTaskID != batch[id].IndexTaskID:
			logger.FromContext(ctx).WithField(logger.FieldVideoID, id).Warn("Video resubmitted elsewhere, dropping from batch")
			delete(batch, id)
		default:
			*batch[id] = v
		}
	}
}

// failStragglers marks every unfinished video Error once polling has run for
// MaxPollDuration.
func (c *Coordinator) failStragglers(ctx context.Context, batch, dirty map[uint]*domain.Video) {
	var stuck []uint
	for _, v := range batch {
		if v.Status.IsTerminal() {
			continue
		}
		if c.setStatus(v, domain.VideoStatusError) {
			dirty[v.ID] = v
			stuck = append(stuck, v.ID)
		}
	}
	metrics.PollStragglersTotal.Add(float64(len(stuck)))
	logger.With(logger.Fields{"videos": stuck}).WithCount(len(stuck)).
		Error(ctx, "Index tasks did not finish within %s, marking Error", c.cfg.MaxPollDuration)
	c.flush(ctx, batch, dirty)
}

func allTerminal(batch map[uint]*domain.Video) bool {
	for _, v := range batch {
		if !v.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (c *Coordinator) newJob(kind domain.JobKind) *domain.IngestJob {
	return &domain.IngestJob{
		ID:     uuid.New().String(),
		Kind:   kind,
		Status: domain.JobStatusPending,
	}
}

func (c *Coordinator) saveJob(ctx context.Context, job *domain.IngestJob, create bool) {
	var err error
	if create {
		err = c.jobs.Create(ctx, job)
	} else {
		err = c.jobs.Update(ctx, job)
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldJobID, job.ID).Warn("Failed to save ingest job")
	}
}

func (c *Coordinator) startJob(ctx context.Context, job *domain.IngestJob) {
	now := c.now()
	job.Status = domain.JobStatusRunning
	job.StartedAt = &now
	c.saveJob(ctx, job, false)
}

// completeJob records the final state of ids on the job.
func (c *Coordinator) completeJob(ctx context.Context, job *domain.IngestJob, ids []uint) {
	if ctx.Err() != nil {
		// Shutting down: the stale sweep resumes the batch later.
		c.finishJob(context.WithoutCancel(ctx), job, "interrupted by shutdown")
		return
	}
	videos, err := c.videos.GetByIDs(ctx, ids)
	if err != nil {
		c.finishJob(ctx, job, err.Error())
		return
	}
	for _, v := range videos {
		switch v.Status {
		case domain.VideoStatusReady:
			job.ReadyItems++
		case domain.VideoStatusFailed, domain.VideoStatusError:
			job.FailedItems++
		}
	}
	c.finishJob(ctx, job, "")
}

func (c *Coordinator) finishJob(ctx context.Context, job *domain.IngestJob, errMsg string) {
	now := c.now()
	job.CompletedAt = &now
	job.Status = domain.JobStatusCompleted
	if errMsg != "" {
		job.Status = domain.JobStatusFailed
		appendErrorLog(job, errMsg)
	}
	c.saveJob(ctx, job, false)

	logger.With(logger.Fields{
		logger.FieldJobID: job.ID,
		"kind":            job.Kind,
		"ready":           job.ReadyItems,
		"failed":          job.FailedItems,
	}).WithStatus(string(job.Status)).Info(ctx, "Ingest job finished")
}

func appendErrorLog(job *domain.IngestJob, line string) {
	if job.ErrorLog != "" {
		job.ErrorLog += "\n"
	}
	job.ErrorLog += line
}

func videoIDs(videos []*domain.Video) []uint {
	ids := make([]uint, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.ID)
	}
	return ids
}

func contains(ids []uint, id uint) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func subtract(ids, remove []uint) []uint {
	out := ids[:0:0]
	for _, id := range ids {
		if !contains(remove, id) {
			out = append(out, id)
		}
	}
	return out
}

func without(videos []*domain.Video, remove []uint) []*domain.Video {
	out := make([]*domain.Video, 0, len(videos))
	for _, v := range videos {
		if !contains(remove, v.ID) {
			out = append(out, v)
		}
	}
	return out
}
