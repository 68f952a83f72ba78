package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"beacon/internal/broadcast"
	"beacon/internal/jobs"
	"beacon/internal/lock"
)

func newCronHandler(t *testing.T) *CronHandler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&jobs.Batch{}, &jobs.Job{}))

	repo := &jobs.Repo{DB: db}
	events := broadcast.Nop{}
	worker := &jobs.Worker{
		Repo:    repo,
		DB:      db,
		Events:  events,
		Backoff: jobs.DefaultBackoff(),
		Log:     zap.NewNop(),
	}
	return &CronHandler{
		Secret: "s3cret",
		Dispatcher: &jobs.Dispatcher{
			Repo:       repo,
			Worker:     worker,
			Locker:     &lock.Local{},
			Events:     events,
			Budget:     5 * time.Second,
			StuckAfter: 10 * time.Minute,
			Log:        zap.NewNop(),
		},
		Log: zap.NewNop(),
	}
}

func TestDispatchRejectsBadSecret(t *testing.T) {
	h := newCronHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/cron/dispatch", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.Dispatch(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/cron/dispatch", nil)
	rec = httptest.NewRecorder()
	h.Dispatch(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDispatchReturnsCycleSummary(t *testing.T) {
	h := newCronHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/cron/dispatch", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.Dispatch(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var sum jobs.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.False(t, sum.Skipped)
	assert.Zero(t, sum.Processed)
	assert.Zero(t, sum.Finalized)
}
