package broadcast

import (
	"context"
	"fmt"
	"time"
)

// Event types emitted by the provisioning pipeline.
const (
	EventJobProcessing  = "job_processing"
	EventJobCompleted   = "job_completed"
	EventJobRetrying    = "job_retrying"
	EventJobFailed      = "job_failed"
	EventBatchPaused    = "batch_paused"
	EventBatchResumed   = "batch_resumed"
	EventBatchCompleted = "batch_completed"
	EventBatchCancelled = "batch_cancelled"
	EventTrackingHealth = "tracking_health"
)

// Event is a progress notification. Completed/Failed/Total always carry the
// batch counters as of the state change the event describes.
type Event struct {
	Type        string     `json:"type"`
	BatchID     uint64     `json:"batch_id,omitempty"`
	JobID       uint64     `json:"job_id,omitempty"`
	TrackingID  uint64     `json:"tracking_id,omitempty"`
	CustomerID  uint64     `json:"customer_id,omitempty"`
	Step        *string    `json:"step,omitempty"`
	Error       *string    `json:"error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	PausedUntil *time.Time `json:"paused_until,omitempty"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Total       int        `json:"total"`
	At          time.Time  `json:"at"`
}

func BatchChannel(batchID uint64) string {
	return fmt.Sprintf("batches.%d", batchID)
}

func CustomerChannel(customerID uint64) string {
	return fmt.Sprintf("customers.%d", customerID)
}

// Publisher delivers events best-effort. Implementations must never block the
// caller and must swallow delivery failures; the job pipeline does not depend
// on anyone listening.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) {}
