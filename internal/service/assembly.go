package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/logger"
	"github.com/timmy/cattube/internal/metrics"
	"github.com/timmy/cattube/internal/repository"
)

// ErrAssemblyExists is returned when a record already tracks the assembly.
var ErrAssemblyExists = errors.New("a video already exists for this assembly")

// maxConflictRetries bounds the reload-and-reapply loop of single record writes.
const maxConflictRetries = 3

// UploadResult is the record created for an upload.
type UploadResult struct {
	Video *domain.Video `json:"video"`
	JobID string        `json:"job_id,omitempty"`
}

// CreateUpload records a video whose upload started as assemblyID. When
// poll is set, the assembly is followed in the background instead of
// waiting for a notification.
func (c *Coordinator) CreateUpload(ctx context.Context, title, assemblyID string, poll bool) (*UploadResult, error) {
	if _, err := c.videos.GetByAssemblyID(ctx, assemblyID); err == nil {
		return nil, ErrAssemblyExists
	} else if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("lookup assembly: %w", err)
	}

	now := c.now()
	video := &domain.Video{
		Title:           title,
		UploadedAt:      now,
		AssemblyID:      assemblyID,
		StatusUpdatedAt: now,
	}
	if err := c.videos.Create(ctx, video); err != nil {
		return nil, fmt.Errorf("create video: %w", err)
	}
	result := &UploadResult{Video: video}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldVideoID:    video.ID,
		logger.FieldAssemblyID: assemblyID,
	})
	logger.CtxInfo(ctx, "Created video for upload")

	if !poll {
		return result, nil
	}

	job := c.newJob(domain.JobKindAssembly)
	job.TotalItems = 1
	c.saveJob(ctx, job, true)
	task := func(ctx context.Context) { c.PollAssembly(ctx, job, assemblyID) }
	if err := c.dispatcher.Dispatch("assembly:"+assemblyID, task); err != nil {
		// The record stays; a notification or a later reconcile can still
		// complete it.
		c.finishJob(ctx, job, err.Error())
		logger.FromContext(ctx).WithError(err).Warn("Could not queue assembly polling")
		return result, nil
	}
	result.JobID = job.ID
	return result, nil
}

// PollAssembly follows an assembly until it finishes and applies the
// outcome. An assembly that does not finish within AssemblyMaxPollDuration
// marks its video Error.
func (c *Coordinator) PollAssembly(ctx context.Context, job *domain.IngestJob, assemblyID string) {
	ctx = logger.SetJobID(logger.SetComponent(ctx, "assembly"), job.ID)
	ctx = logger.WithField(ctx, logger.FieldAssemblyID, assemblyID)
	c.startJob(ctx, job)

	start := c.now()
	for {
		assembly, err := callGateway(ctx, c, "get_assembly", func(ctx context.Context) (*Assembly, error) {
			return c.transcoder.GetAssembly(ctx, assemblyID)
		})
		switch {
		case ctx.Err() != nil:
			c.finishJob(context.WithoutCancel(ctx), job, "interrupted by shutdown")
			return
		case err != nil:
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldGateway, GatewayTranscoder).
				Error("Assembly status unavailable")
		case assembly.Finished():
			c.finishAssemblyJob(ctx, job, assembly)
			return
		}

		if c.cfg.AssemblyMaxPollDuration > 0 && c.now().Sub(start) >= c.cfg.AssemblyMaxPollDuration {
			metrics.PollStragglersTotal.Inc()
			logger.FromContext(ctx).Errorf("Assembly did not finish within %s, marking Error", c.cfg.AssemblyMaxPollDuration)
			_, err := c.updateByAssembly(ctx, assemblyID, func(v *domain.Video) bool {
				return c.setStatus(v, domain.VideoStatusError)
			})
			job.FailedItems = 1
			msg := "assembly polling timed out"
			if err != nil {
				msg += ": " + err.Error()
			}
			c.finishJob(ctx, job, msg)
			return
		}

		if err := c.sleep(ctx, c.cfg.AssemblyPollInterval); err != nil {
			c.finishJob(context.WithoutCancel(ctx), job, "interrupted by shutdown")
			return
		}
	}
}

func (c *Coordinator) finishAssemblyJob(ctx context.Context, job *domain.IngestJob, assembly *Assembly) {
	video, err := c.ApplyAssembly(ctx, assembly)
	if err != nil {
		job.FailedItems = 1
		c.finishJob(ctx, job, err.Error())
		return
	}
	if video.Status == domain.VideoStatusError {
		job.FailedItems = 1
	}
	c.finishJob(ctx, job, "")
}

// ApplyAssembly stores the outcome of a finished assembly on its video. A
// successful assembly sets the original key; a failed one, or one without
// a video result, marks the video Error. Applying the same assembly twice
// is a no-op. Derived asset keys are never touched here.
// Returns repository.ErrNotFound when no video tracks the assembly.
func (c *Coordinator) ApplyAssembly(ctx context.Context, assembly *Assembly) (*domain.Video, error) {
	ctx = logger.WithField(ctx, logger.FieldAssemblyID, assembly.AssemblyID)
	log := logger.FromContext(ctx)

	if !assembly.Finished() {
		log.WithField("ok", assembly.OK).Info("Assembly still running, nothing to apply")
		return c.videos.GetByAssemblyID(ctx, assembly.AssemblyID)
	}

	key := ""
	if assembly.Succeeded() {
		var err error
		if key, err = assembly.OriginalKey(c.cfg.VideoPrefix); err != nil {
			log.WithError(err).Error("Completed assembly has no video result")
		}
	} else {
		log.WithFields(logger.Fields{
			"ok":    assembly.OK,
			"error": assembly.Error,
		}).Warn("Assembly failed: " + assembly.Message)
	}

	return c.updateByAssembly(ctx, assembly.AssemblyID, func(v *domain.Video) bool {
		if key == "" {
			return c.setStatus(v, domain.VideoStatusError)
		}
		if v.OriginalKey == key {
			return false
		}
		v.OriginalKey = key
		log.WithFields(logger.Fields{
			logger.FieldVideoID: v.ID,
			"original_key":      key,
		}).Info("Stored transcoded original")
		return true
	})
}

// updateByAssembly applies mutate to the video of assemblyID and writes it
// with compare-and-swap, reloading on conflict.
func (c *Coordinator) updateByAssembly(ctx context.Context, assemblyID string, mutate func(*domain.Video) bool) (*domain.Video, error) {
	for attempt := 0; ; attempt++ {
		video, err := c.videos.GetByAssemblyID(ctx, assemblyID)
		if err != nil {
			return nil, err
		}
		if !mutate(video) {
			return video, nil
		}
		err = c.videos.UpdateOne(ctx, video)
		if err == nil {
			if video.Status == domain.VideoStatusError {
				metrics.RecordTransition(string(video.Status))
			}
			return video, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt+1 >= maxConflictRetries {
			return nil, fmt.Errorf("update video %d: %w", video.ID, err)
		}
		metrics.VersionConflictsTotal.Inc()
	}
}

// RecordNotification keeps an audit copy of an inbound notification when
// auditing is enabled.
func (c *Coordinator) RecordNotification(ctx context.Context, assemblyID, sig, payload string, verified bool) {
	if !c.cfg.AuditNotifications {
		return
	}
	n := &domain.Notification{
		AssemblyID: assemblyID,
		Signature:  sig,
		Payload:    strings.TrimSpace(payload),
		Verified:   verified,
	}
	if err := c.notifications.Create(ctx, n); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to store notification")
	}
}
