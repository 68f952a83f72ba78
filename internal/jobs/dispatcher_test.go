package jobs

import (
	"context"
	"testing"
	"time"

	"beacon/internal/broadcast"
	"beacon/internal/lock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDispatcher(db *gorm.DB, prov Provisioner, events broadcast.Publisher, locker lock.Locker, at time.Time) *Dispatcher {
	w := newTestWorker(db, prov, events, at)
	return &Dispatcher{
		Repo:       w.Repo,
		Worker:     w,
		Locker:     locker,
		Events:     events,
		Budget:     5 * time.Second,
		JobDelay:   0,
		StuckAfter: 10 * time.Minute,
		Log:        zap.NewNop(),
		Now:        testClock(at),
	}
}

func TestCycleDrainsBatchAndFinalizes(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedGoogleAccount(t, db, 1)
	b := seedBatch(t, db, 3)
	for i := 0; i < 3; i++ {
		tr := seedTracking(t, db, 1, "pageview")
		seedJob(t, db, b.ID, tr.ID, nil)
	}

	hub := broadcast.NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe(broadcast.BatchChannel(b.ID))
	defer cancel()

	locker := lock.NewLocal()
	d := newTestDispatcher(db, &fakeProvisioner{}, hub, locker, now)

	sum, err := d.RunCycle(ctx)
	require.NoError(t, err)

	assert.False(t, sum.Skipped)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 1, sum.Finalized)

	batch := reloadBatch(t, db, b.ID)
	assert.Equal(t, BatchCompleted, batch.Status)
	assert.Equal(t, 3, batch.Completed)
	assert.Equal(t, 0, batch.Failed)
	requireBatchInvariant(t, db, b.ID)

	// the lock was released at the end of the cycle
	ok, err := locker.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, locker.Release(ctx))

	var sawCompleted bool
	for {
		select {
		case ev := <-ch:
			if ev.Type == broadcast.EventBatchCompleted {
				sawCompleted = true
				assert.Equal(t, 3, ev.Completed)
				assert.Equal(t, 3, ev.Total)
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawCompleted, "finalizer announces batch completion")
}

func TestCycleSkipsWhenLockHeld(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedGoogleAccount(t, db, 1)
	b := seedBatch(t, db, 1)
	tr := seedTracking(t, db, 1, "pageview")
	j := seedJob(t, db, b.ID, tr.ID, nil)

	locker := lock.NewLocal()
	ok, err := locker.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = locker.Release(ctx) }()

	d := newTestDispatcher(db, &fakeProvisioner{}, broadcast.Nop{}, locker, now)

	sum, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Skipped)
	assert.Equal(t, 0, sum.Processed)

	assert.Equal(t, JobQueued, reloadJob(t, db, j.ID).Status)
}

func TestCycleQuotaPauseAndResume(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedGoogleAccount(t, db, 1)
	b := seedBatch(t, db, 2)
	trA := seedTracking(t, db, 1, "pageview")
	trB := seedTracking(t, db, 1, "pageview")
	jA := seedJob(t, db, b.ID, trA.ID, func(j *Job) {
		j.Priority = 10
		j.CreatedAt = now.Add(-2 * time.Hour)
	})
	jB := seedJob(t, db, b.ID, trB.ID, func(j *Job) {
		j.Priority = 20
		j.CreatedAt = now.Add(-1 * time.Hour)
	})

	prov := &fakeProvisioner{tagErr: &classedError{msg: "quota exceeded", class: ClassQuota}}
	locker := lock.NewLocal()
	d := newTestDispatcher(db, prov, broadcast.Nop{}, locker, now)

	sum, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed, "only the triggering job was attempted")
	assert.Equal(t, 1, sum.Paused)
	assert.Equal(t, 1, sum.QuotaPaused)
	assert.Equal(t, 0, sum.Finalized)

	assert.Equal(t, BatchPaused, reloadBatch(t, db, b.ID).Status)
	assert.Equal(t, JobQueued, reloadJob(t, db, jA.ID).Status)
	assert.Equal(t, 0, reloadJob(t, db, jA.ID).AttemptCount)
	assert.Equal(t, JobQueued, reloadJob(t, db, jB.ID).Status)

	// the quota recovered and the cooldown elapsed
	prov.tagErr = nil
	later := now.Add(20 * time.Minute)
	d2 := newTestDispatcher(db, prov, broadcast.Nop{}, locker, later)

	sum2, err := d2.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum2.Resumed)
	assert.Equal(t, 2, sum2.Processed)
	assert.Equal(t, 2, sum2.Succeeded)
	assert.Equal(t, 1, sum2.Finalized)

	batch := reloadBatch(t, db, b.ID)
	assert.Equal(t, BatchCompleted, batch.Status)
	assert.Equal(t, 2, batch.Completed)
	assert.Nil(t, batch.PauseReason)
	assert.Nil(t, batch.ResumeAfter)
	requireBatchInvariant(t, db, b.ID)
}

func TestCyclePanicResetsJobAndCountsFailure(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedGoogleAccount(t, db, 1)
	b := seedBatch(t, db, 1)
	tr := seedTracking(t, db, 1, "pageview")
	j := seedJob(t, db, b.ID, tr.ID, nil)

	locker := lock.NewLocal()
	d := newTestDispatcher(db, &fakeProvisioner{panicTag: true}, broadcast.Nop{}, locker, now)

	sum, err := d.RunCycle(ctx)
	require.NoError(t, err, "a panicking worker must not abort the cycle")
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Finalized)

	// back in the queue, attempt count untouched, batch counters clean
	got := reloadJob(t, db, j.ID)
	assert.Equal(t, JobQueued, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.StartedAt)

	batch := reloadBatch(t, db, b.ID)
	assert.Equal(t, 0, batch.Completed)
	assert.Equal(t, 0, batch.Failed)
	assert.Equal(t, BatchProcessing, batch.Status)
	requireBatchInvariant(t, db, b.ID)

	// lock is free again
	ok, err := locker.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, locker.Release(ctx))
}

func TestCycleHonorsBudget(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedGoogleAccount(t, db, 1)
	b := seedBatch(t, db, 1)
	tr := seedTracking(t, db, 1, "pageview")
	seedJob(t, db, b.ID, tr.ID, nil)

	d := newTestDispatcher(db, &fakeProvisioner{}, broadcast.Nop{}, lock.NewLocal(), now)
	d.Budget = 0

	sum, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed, "zero budget means no job selection")
	assert.False(t, sum.Skipped)
}

func TestCycleRecoversStuckJobs(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedGoogleAccount(t, db, 1)
	b := seedBatch(t, db, 1)
	tr := seedTracking(t, db, 1, "pageview")
	stale := now.Add(-30 * time.Minute)
	step := StepTagConfig
	j := seedJob(t, db, b.ID, tr.ID, func(j *Job) {
		j.Status = JobProcessing
		j.StartedAt = &stale
		j.Step = &step
	})

	d := newTestDispatcher(db, &fakeProvisioner{}, broadcast.Nop{}, lock.NewLocal(), now)

	sum, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Recovered)
	assert.Equal(t, 1, sum.Processed, "recovered job runs in the same cycle")
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Finalized)

	assert.Equal(t, JobCompleted, reloadJob(t, db, j.ID).Status)
	assert.Equal(t, BatchCompleted, reloadBatch(t, db, b.ID).Status)
}
