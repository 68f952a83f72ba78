package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrBatchTerminal = errors.New("batch already finished")
)

type Repo struct {
	DB *gorm.DB
}

func (r *Repo) Batch(ctx context.Context, id uint64) (*Batch, error) {
	var b Batch
	if err := r.DB.WithContext(ctx).First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("load batch %d: %w", id, err)
	}
	return &b, nil
}

// NextEligible picks the single job to run now: queued or due-for-retry, in a
// batch that is actively processing, most urgent first, oldest first. The
// dispatch lock guarantees a single claimant, so no row locking is needed.
func (r *Repo) NextEligible(ctx context.Context, now time.Time) (*Job, error) {
	var j Job
	err := r.DB.WithContext(ctx).
		Joins("join batches on batches.id = jobs.batch_id").
		Where("jobs.status in ?", []JobStatus{JobQueued, JobRetrying}).
		Where("batches.status = ?", BatchProcessing).
		Where("jobs.next_retry_at is null or jobs.next_retry_at <= ?", now).
		Order("jobs.priority asc, jobs.created_at asc, jobs.id asc").
		First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("select eligible job: %w", err)
	}
	return &j, nil
}

func (r *Repo) MarkProcessing(ctx context.Context, jobID uint64, step string, now time.Time) error {
	return r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).
		Updates(map[string]any{
			"status":     JobProcessing,
			"step":       step,
			"started_at": now,
		}).Error
}

func (r *Repo) SetStep(ctx context.Context, jobID uint64, step string) error {
	return r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).
		Update("step", step).Error
}

// MarkCompleted finishes the job and bumps the batch completed counter in one
// transaction. Returns the batch as of after the bump.
func (r *Repo) MarkCompleted(ctx context.Context, job *Job) (*Batch, error) {
	var b Batch
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Job{}).Where("id = ?", job.ID).
			Updates(map[string]any{
				"status":        JobCompleted,
				"step":          nil,
				"started_at":    nil,
				"next_retry_at": nil,
				"last_error":    nil,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&Batch{}).Where("id = ?", job.BatchID).
			Update("completed", gorm.Expr("completed + ?", 1)).Error; err != nil {
			return err
		}
		return tx.First(&b, job.BatchID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mark completed job %d: %w", job.ID, err)
	}
	return &b, nil
}

// MarkFailed is terminal: the job keeps its attempt count and its failing
// step, the batch failed counter goes up.
func (r *Repo) MarkFailed(ctx context.Context, job *Job, errMsg string) (*Batch, error) {
	var b Batch
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Job{}).Where("id = ?", job.ID).
			Updates(map[string]any{
				"status":        JobFailed,
				"started_at":    nil,
				"next_retry_at": nil,
				"last_error":    errMsg,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&Batch{}).Where("id = ?", job.BatchID).
			Update("failed", gorm.Expr("failed + ?", 1)).Error; err != nil {
			return err
		}
		return tx.First(&b, job.BatchID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mark failed job %d: %w", job.ID, err)
	}
	return &b, nil
}

func (r *Repo) MarkRetrying(ctx context.Context, job *Job, attempts int, nextRetryAt time.Time, errMsg string) error {
	err := r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":        JobRetrying,
			"attempt_count": attempts,
			"next_retry_at": nextRetryAt,
			"started_at":    nil,
			"last_error":    errMsg,
		}).Error
	if err != nil {
		return fmt.Errorf("mark retrying job %d: %w", job.ID, err)
	}
	return nil
}

// PauseForQuota pauses the whole batch and puts the triggering job back in
// the queue with its attempt count untouched; the batch pause gates it until
// resumeAfter.
func (r *Repo) PauseForQuota(ctx context.Context, job *Job, reason string, resumeAfter time.Time) (*Batch, error) {
	var b Batch
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Batch{}).
			Where("id = ? and status = ?", job.BatchID, BatchProcessing).
			Updates(map[string]any{
				"status":       BatchPaused,
				"pause_reason": reason,
				"resume_after": resumeAfter,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&Job{}).Where("id = ?", job.ID).
			Updates(map[string]any{
				"status":        JobQueued,
				"step":          nil,
				"started_at":    nil,
				"next_retry_at": nil,
				"last_error":    reason,
			}).Error; err != nil {
			return err
		}
		return tx.First(&b, job.BatchID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("pause batch %d: %w", job.BatchID, err)
	}
	return &b, nil
}

// ResumeDue flips paused batches whose cooldown has passed back to
// PROCESSING and returns them.
func (r *Repo) ResumeDue(ctx context.Context, now time.Time) ([]Batch, error) {
	var resumed []Batch
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := tx.Model(&Batch{}).
			Where("status = ? and resume_after is not null and resume_after <= ?", BatchPaused, now).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&Batch{}).Where("id in ?", ids).
			Updates(map[string]any{
				"status":       BatchProcessing,
				"pause_reason": nil,
				"resume_after": nil,
			}).Error; err != nil {
			return err
		}
		return tx.Where("id in ?", ids).Find(&resumed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("resume due batches: %w", err)
	}
	return resumed, nil
}

// RequeueStuck returns jobs stranded in PROCESSING (crashed dispatcher,
// killed pod) to the queue. Attempt counts are preserved.
func (r *Repo) RequeueStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("status = ? and started_at is not null and started_at < ?", JobProcessing, olderThan).
		Updates(map[string]any{
			"status":     JobQueued,
			"step":       nil,
			"started_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FinalizeDrained completes every PROCESSING batch that has no queued,
// retrying or in-flight job left, failures included. Idempotent: completed
// batches are never picked up again.
func (r *Repo) FinalizeDrained(ctx context.Context) ([]Batch, error) {
	var done []Batch
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := tx.Model(&Batch{}).
			Where("status = ?", BatchProcessing).
			Where("not exists (select 1 from jobs where jobs.batch_id = batches.id and jobs.status not in ?)",
				[]JobStatus{JobCompleted, JobFailed}).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&Batch{}).Where("id in ?", ids).
			Update("status", BatchCompleted).Error; err != nil {
			return err
		}
		return tx.Where("id in ?", ids).Find(&done).Error
	})
	if err != nil {
		return nil, fmt.Errorf("finalize drained batches: %w", err)
	}
	return done, nil
}

// Cancel ends a non-terminal batch. Its remaining jobs stay put but are no
// longer eligible, since eligibility requires a PROCESSING batch.
func (r *Repo) Cancel(ctx context.Context, batchID, tenantID uint64) (*Batch, error) {
	var b Batch
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? and tenant_id = ?", batchID, tenantID).First(&b).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBatchNotFound
			}
			return err
		}
		if b.Status.Terminal() {
			return ErrBatchTerminal
		}
		if err := tx.Model(&Batch{}).Where("id = ?", b.ID).
			Updates(map[string]any{
				"status":       BatchCancelled,
				"pause_reason": nil,
				"resume_after": nil,
			}).Error; err != nil {
			return err
		}
		return tx.First(&b, b.ID).Error
	})
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) || errors.Is(err, ErrBatchTerminal) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel batch %d: %w", batchID, err)
	}
	return &b, nil
}

// ListBatches returns a tenant's batches, newest first. customerID zero
// means all customers.
func (r *Repo) ListBatches(ctx context.Context, tenantID, customerID uint64) ([]Batch, error) {
	q := r.DB.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if customerID != 0 {
		q = q.Where("customer_id = ?", customerID)
	}
	var out []Batch
	if err := q.Order("created_at desc").Limit(100).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return out, nil
}

// BatchWithJobs loads one tenant-scoped batch together with its jobs in
// queue order.
func (r *Repo) BatchWithJobs(ctx context.Context, tenantID, batchID uint64) (*Batch, []Job, error) {
	var b Batch
	err := r.DB.WithContext(ctx).
		Where("id = ? and tenant_id = ?", batchID, tenantID).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var js []Job
	err = r.DB.WithContext(ctx).
		Where("batch_id = ?", b.ID).
		Order("priority asc, created_at asc, id asc").
		Find(&js).Error
	if err != nil {
		return nil, nil, err
	}
	return &b, js, nil
}

// ResetToQueued puts a job back in the queue untouched after a worker panic
// or an infrastructure failure. A later cycle picks it up again.
func (r *Repo) ResetToQueued(ctx context.Context, jobID uint64) error {
	err := r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).
		Updates(map[string]any{
			"status":     JobQueued,
			"step":       nil,
			"started_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("reset job %d: %w", jobID, err)
	}
	return nil
}
