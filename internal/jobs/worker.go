package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"beacon/internal/broadcast"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Provisioner is the outbound side of a job: both calls must be idempotent
// per (account, name) because jobs run at-least-once.
type Provisioner interface {
	EnsureTag(ctx context.Context, p TagParams) (string, error)
	EnsureConversion(ctx context.Context, p ConversionParams) (string, error)
}

type TagParams struct {
	Token       string
	ContainerID string
	Name        string
	Kind        string
	Domain      string
}

type ConversionParams struct {
	Token        string
	AdsAccountID string
	Name         string
}

// Result is the worker's verdict on one job execution.
type Result int

const (
	ResultCompleted Result = iota
	ResultRetrying
	ResultFailed
	ResultQuotaPaused
)

var errTargetMissing = errors.New("provisioning target missing")

// Worker runs a single claimed job end to end: state transitions, provider
// calls, batch counters and progress events. Infrastructure errors come back
// as a non-nil error so the dispatcher can reset the job; provider failures
// are absorbed into the Result.
type Worker struct {
	Repo        *Repo
	DB          *gorm.DB
	Provisioner Provisioner
	Events      broadcast.Publisher

	Backoff       BackoffPolicy
	QuotaCooldown time.Duration

	Log *zap.Logger
	Now func() time.Time
}

// Read-only views over other packages' tables, to stay out of their way.
type trackingRow struct {
	ID                uint64 `gorm:"column:id"`
	CustomerID        uint64 `gorm:"column:customer_id"`
	Name              string `gorm:"column:name"`
	Kind              string `gorm:"column:kind"`
	MeasurementDomain string `gorm:"column:measurement_domain"`
}

func (trackingRow) TableName() string { return "trackings" }

type googleAccountRow struct {
	CustomerID   uint64 `gorm:"column:customer_id"`
	ContainerID  string `gorm:"column:container_id"`
	AdsAccountID string `gorm:"column:ads_account_id"`
	AccessToken  string `gorm:"column:access_token"`
}

func (googleAccountRow) TableName() string { return "google_accounts" }

func (w *Worker) Run(ctx context.Context, job *Job) (Result, error) {
	batch, err := w.Repo.Batch(ctx, job.BatchID)
	if err != nil {
		return 0, err
	}

	if err := w.Repo.MarkProcessing(ctx, job.ID, StepTagConfig, w.now()); err != nil {
		return 0, fmt.Errorf("mark processing job %d: %w", job.ID, err)
	}
	step := StepTagConfig
	w.publish(ctx, batch, broadcast.Event{
		Type:       broadcast.EventJobProcessing,
		JobID:      job.ID,
		TrackingID: job.TrackingID,
		Step:       &step,
	})

	provErr := w.provision(ctx, batch, job)
	if provErr == nil {
		b, err := w.Repo.MarkCompleted(ctx, job)
		if err != nil {
			return 0, err
		}
		w.publish(ctx, b, broadcast.Event{
			Type:       broadcast.EventJobCompleted,
			JobID:      job.ID,
			TrackingID: job.TrackingID,
		})
		return ResultCompleted, nil
	}
	if isInternal(provErr) {
		return 0, provErr
	}

	switch ClassOf(provErr) {
	case ClassQuota:
		resumeAfter := w.now().Add(w.cooldown(provErr))
		b, err := w.Repo.PauseForQuota(ctx, job, provErr.Error(), resumeAfter)
		if err != nil {
			return 0, err
		}
		msg := provErr.Error()
		w.publish(ctx, b, broadcast.Event{
			Type:        broadcast.EventBatchPaused,
			JobID:       job.ID,
			TrackingID:  job.TrackingID,
			Error:       &msg,
			PausedUntil: &resumeAfter,
		})
		w.Log.Warn("provider quota exhausted, batch paused",
			zap.Uint64("batch_id", b.ID),
			zap.Uint64("job_id", job.ID),
			zap.Time("resume_after", resumeAfter))
		return ResultQuotaPaused, nil

	case ClassTransient:
		attempt := job.AttemptCount + 1
		next, ok := w.Backoff.Next(w.now(), attempt)
		if !ok {
			w.Log.Warn("job out of retries",
				zap.Uint64("job_id", job.ID),
				zap.Int("attempts", job.AttemptCount),
				zap.String("error", provErr.Error()))
			return w.fail(ctx, job, provErr)
		}
		if err := w.Repo.MarkRetrying(ctx, job, attempt, next, provErr.Error()); err != nil {
			return 0, err
		}
		msg := provErr.Error()
		w.publish(ctx, batch, broadcast.Event{
			Type:        broadcast.EventJobRetrying,
			JobID:       job.ID,
			TrackingID:  job.TrackingID,
			Error:       &msg,
			NextRetryAt: &next,
		})
		return ResultRetrying, nil

	default:
		return w.fail(ctx, job, provErr)
	}
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) (Result, error) {
	b, err := w.Repo.MarkFailed(ctx, job, cause.Error())
	if err != nil {
		return 0, err
	}
	msg := cause.Error()
	w.publish(ctx, b, broadcast.Event{
		Type:       broadcast.EventJobFailed,
		JobID:      job.ID,
		TrackingID: job.TrackingID,
		Error:      &msg,
	})
	return ResultFailed, nil
}

// provision walks the steps for the job's tracking: the tag always, the
// conversion link for conversion trackings, then flips the tracking to
// provisioned. Provider refs are persisted as soon as each step lands.
func (w *Worker) provision(ctx context.Context, batch *Batch, job *Job) error {
	var tr trackingRow
	if err := w.DB.WithContext(ctx).Where("id = ?", job.TrackingID).First(&tr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: tracking %d", errTargetMissing, job.TrackingID)
		}
		return &internalError{fmt.Errorf("load tracking %d: %w", job.TrackingID, err)}
	}

	var ga googleAccountRow
	if err := w.DB.WithContext(ctx).Where("customer_id = ?", tr.CustomerID).First(&ga).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no google account for customer %d", errTargetMissing, tr.CustomerID)
		}
		return &internalError{fmt.Errorf("load google account: %w", err)}
	}

	tagRef, err := w.Provisioner.EnsureTag(ctx, TagParams{
		Token:       ga.AccessToken,
		ContainerID: ga.ContainerID,
		Name:        tr.Name,
		Kind:        tr.Kind,
		Domain:      tr.MeasurementDomain,
	})
	if err != nil {
		return err
	}
	if err := w.saveTracking(ctx, tr.ID, map[string]any{"tag_ref": tagRef}); err != nil {
		return err
	}

	if tr.Kind == "conversion" {
		if err := w.Repo.SetStep(ctx, job.ID, StepConversionLink); err != nil {
			return &internalError{err}
		}
		step := StepConversionLink
		w.publish(ctx, batch, broadcast.Event{
			Type:       broadcast.EventJobProcessing,
			JobID:      job.ID,
			TrackingID: job.TrackingID,
			Step:       &step,
		})

		convRef, err := w.Provisioner.EnsureConversion(ctx, ConversionParams{
			Token:        ga.AccessToken,
			AdsAccountID: ga.AdsAccountID,
			Name:         tr.Name,
		})
		if err != nil {
			return err
		}
		if err := w.saveTracking(ctx, tr.ID, map[string]any{"conversion_ref": convRef}); err != nil {
			return err
		}
	}

	return w.saveTracking(ctx, tr.ID, map[string]any{"provision_state": "provisioned"})
}

func (w *Worker) saveTracking(ctx context.Context, trackingID uint64, values map[string]any) error {
	if err := w.DB.WithContext(ctx).Table("trackings").Where("id = ?", trackingID).
		Updates(values).Error; err != nil {
		return &internalError{fmt.Errorf("update tracking %d: %w", trackingID, err)}
	}
	return nil
}

func (w *Worker) cooldown(err error) time.Duration {
	var h CooldownHinter
	if errors.As(err, &h) {
		if d, ok := h.Cooldown(); ok && d > 0 {
			return d
		}
	}
	if w.QuotaCooldown > 0 {
		return w.QuotaCooldown
	}
	return 15 * time.Minute
}

// publish sends ev on both the batch and the customer channel with the batch
// counters stamped in.
func (w *Worker) publish(ctx context.Context, b *Batch, ev broadcast.Event) {
	ev.BatchID = b.ID
	ev.CustomerID = b.CustomerID
	ev.Completed = b.Completed
	ev.Failed = b.Failed
	ev.Total = b.TotalJobs
	ev.At = w.now()
	w.Events.Publish(ctx, broadcast.BatchChannel(b.ID), ev)
	w.Events.Publish(ctx, broadcast.CustomerChannel(b.CustomerID), ev)
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}
