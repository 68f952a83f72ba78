package jobs

import (
	"context"
	"fmt"
	"time"

	"beacon/internal/broadcast"
	"beacon/internal/lock"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Summary is what a dispatch cycle reports back to the cron caller.
type Summary struct {
	Skipped     bool  `json:"skipped"`
	Recovered   int   `json:"recovered"`
	Resumed     int   `json:"resumed"`
	Processed   int   `json:"processed"`
	Succeeded   int   `json:"succeeded"`
	Failed      int   `json:"failed"`
	Retried     int   `json:"retried"`
	Paused      int   `json:"paused"`
	QuotaPaused int   `json:"quotaPaused"`
	Finalized   int   `json:"finalized"`
	DurationMs  int64 `json:"durationMs"`
}

// Dispatcher drains eligible jobs one at a time under a cluster lock and a
// wall-clock budget. Cycles are triggered externally (cron endpoint or the
// embedded scheduler); overlapping triggers collapse into skipped cycles.
type Dispatcher struct {
	Repo   *Repo
	Worker *Worker
	Locker lock.Locker
	Events broadcast.Publisher

	Budget     time.Duration
	JobDelay   time.Duration
	StuckAfter time.Duration

	Log *zap.Logger
	Now func() time.Time
}

func (d *Dispatcher) RunCycle(ctx context.Context) (Summary, error) {
	start := d.now()
	var sum Summary

	ok, err := d.Locker.TryAcquire(ctx)
	if err != nil {
		return sum, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		sum.Skipped = true
		sum.DurationMs = d.now().Sub(start).Milliseconds()
		return sum, nil
	}
	defer func() {
		// release must survive a canceled request context
		if rerr := d.Locker.Release(context.WithoutCancel(ctx)); rerr != nil {
			d.Log.Warn("release dispatch lock", zap.Error(rerr))
		}
	}()

	if n, err := d.Repo.RequeueStuck(ctx, start.Add(-d.StuckAfter)); err != nil {
		d.Log.Error("requeue stuck jobs", zap.Error(err))
	} else {
		sum.Recovered = int(n)
		if n > 0 {
			d.Log.Info("requeued stuck jobs", zap.Int64("count", n))
		}
	}

	if resumed, err := d.Repo.ResumeDue(ctx, start); err != nil {
		d.Log.Error("resume paused batches", zap.Error(err))
	} else {
		sum.Resumed = len(resumed)
		for i := range resumed {
			d.publishBatch(ctx, &resumed[i], broadcast.EventBatchResumed)
		}
	}

	limiter := rate.NewLimiter(rate.Every(d.JobDelay), 1)
	for d.now().Sub(start) < d.Budget {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		job, err := d.Repo.NextEligible(ctx, d.now())
		if err != nil {
			d.Log.Error("select eligible job", zap.Error(err))
			break
		}
		if job == nil {
			break
		}

		res, err := d.runOne(ctx, job)
		sum.Processed++
		if err != nil {
			// the job is already back in the queue; stop here instead of
			// reselecting it in a tight loop, the next cycle retries
			sum.Failed++
			d.Log.Error("job execution aborted",
				zap.Uint64("job_id", job.ID),
				zap.Error(err))
			break
		}
		switch res {
		case ResultCompleted:
			sum.Succeeded++
		case ResultFailed:
			sum.Failed++
		case ResultRetrying:
			sum.Retried++
		case ResultQuotaPaused:
			sum.Paused++
			sum.QuotaPaused++
		}
	}

	if done, err := d.Repo.FinalizeDrained(ctx); err != nil {
		d.Log.Error("finalize drained batches", zap.Error(err))
	} else {
		sum.Finalized = len(done)
		for i := range done {
			d.publishBatch(ctx, &done[i], broadcast.EventBatchCompleted)
		}
	}

	sum.DurationMs = d.now().Sub(start).Milliseconds()
	d.Log.Info("dispatch cycle finished",
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("retried", sum.Retried),
		zap.Int("finalized", sum.Finalized),
		zap.Int64("duration_ms", sum.DurationMs))
	return sum, nil
}

// runOne shields the cycle from a misbehaving worker: panics and internal
// errors put the job back in the queue with its attempt count untouched.
func (d *Dispatcher) runOne(ctx context.Context, job *Job) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
			d.resetJob(job)
		}
	}()

	res, err = d.Worker.Run(ctx, job)
	if err != nil {
		d.resetJob(job)
	}
	return res, err
}

func (d *Dispatcher) resetJob(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Repo.ResetToQueued(ctx, job.ID); err != nil {
		d.Log.Error("reset job after failure", zap.Uint64("job_id", job.ID), zap.Error(err))
	}
}

func (d *Dispatcher) publishBatch(ctx context.Context, b *Batch, eventType string) {
	ev := broadcast.Event{
		Type:       eventType,
		BatchID:    b.ID,
		CustomerID: b.CustomerID,
		Completed:  b.Completed,
		Failed:     b.Failed,
		Total:      b.TotalJobs,
		At:         d.now(),
	}
	d.Events.Publish(ctx, broadcast.BatchChannel(b.ID), ev)
	d.Events.Publish(ctx, broadcast.CustomerChannel(b.CustomerID), ev)
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}
