package jobs

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Minimal stand-ins for the trackings and google_accounts tables the worker
// reads through its row projections.
type testTracking struct {
	ID                uint64 `gorm:"primaryKey"`
	CustomerID        uint64
	Name              string
	Kind              string
	MeasurementDomain string
	ProvisionState    string
	TagRef            *string
	ConversionRef     *string
}

func (testTracking) TableName() string { return "trackings" }

type testGoogleAccount struct {
	ID           uint64 `gorm:"primaryKey"`
	CustomerID   uint64
	ContainerID  string
	AdsAccountID string
	AccessToken  string
}

func (testGoogleAccount) TableName() string { return "google_accounts" }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&Batch{}, &Job{}, &testTracking{}, &testGoogleAccount{}))
	return db
}

func seedBatch(t *testing.T, db *gorm.DB, total int) *Batch {
	t.Helper()
	b := &Batch{TenantID: 1, CustomerID: 1, UserID: 1, TotalJobs: total, Status: BatchProcessing}
	require.NoError(t, db.Create(b).Error)
	return b
}

func seedJob(t *testing.T, db *gorm.DB, batchID, trackingID uint64, mutate func(*Job)) *Job {
	t.Helper()
	j := &Job{BatchID: batchID, TrackingID: trackingID, Status: JobQueued, Priority: 100}
	if mutate != nil {
		mutate(j)
	}
	require.NoError(t, db.Create(j).Error)
	return j
}

func seedTracking(t *testing.T, db *gorm.DB, customerID uint64, kind string) *testTracking {
	t.Helper()
	tr := &testTracking{
		CustomerID:        customerID,
		Name:              "signup",
		Kind:              kind,
		MeasurementDomain: "shop.example.com",
		ProvisionState:    "unprovisioned",
	}
	require.NoError(t, db.Create(tr).Error)
	return tr
}

func seedGoogleAccount(t *testing.T, db *gorm.DB, customerID uint64) *testGoogleAccount {
	t.Helper()
	ga := &testGoogleAccount{
		CustomerID:   customerID,
		ContainerID:  "GTM-TEST1",
		AdsAccountID: "123-456-7890",
		AccessToken:  "ya29.test",
	}
	require.NoError(t, db.Create(ga).Error)
	return ga
}

func reloadJob(t *testing.T, db *gorm.DB, id uint64) Job {
	t.Helper()
	var j Job
	require.NoError(t, db.First(&j, id).Error)
	return j
}

func reloadBatch(t *testing.T, db *gorm.DB, id uint64) Batch {
	t.Helper()
	var b Batch
	require.NoError(t, db.First(&b, id).Error)
	return b
}

// Counter invariant: completed + failed + unfinished jobs == total.
func requireBatchInvariant(t *testing.T, db *gorm.DB, batchID uint64) {
	t.Helper()
	b := reloadBatch(t, db, batchID)

	var pending int64
	require.NoError(t, db.Model(&Job{}).
		Where("batch_id = ? and status not in ?", batchID, []JobStatus{JobCompleted, JobFailed}).
		Count(&pending).Error)

	require.Equal(t, b.TotalJobs, b.Completed+b.Failed+int(pending),
		"batch %d counters out of sync (completed=%d failed=%d pending=%d total=%d)",
		batchID, b.Completed, b.Failed, pending, b.TotalJobs)
}

func testClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
