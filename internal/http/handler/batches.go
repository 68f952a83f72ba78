package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"beacon/internal/auth"
	"beacon/internal/broadcast"
	"beacon/internal/customer"
	"beacon/internal/jobs"
	"beacon/internal/tracking"

	"github.com/go-chi/chi/v5"
)

type BatchHandler struct {
	Customers *customer.Service
	Svc       *tracking.Service
	Repo      *jobs.Repo
	Events    broadcast.Publisher
}

type submitBatchReq struct {
	TrackingIDs []uint64 `json:"tracking_ids" validate:"required,min=1,dive,min=1"`
	Priority    int      `json:"priority" validate:"omitempty,min=1,max=1000"`
}

type batchDTO struct {
	ID          uint64     `json:"id"`
	CustomerID  uint64     `json:"customer_id"`
	TotalJobs   int        `json:"total_jobs"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Status      string     `json:"status"`
	PauseReason *string    `json:"pause_reason"`
	ResumeAfter *time.Time `json:"resume_after"`
	CreatedAt   time.Time  `json:"created_at"`
}

type jobDTO struct {
	ID           uint64     `json:"id"`
	TrackingID   uint64     `json:"tracking_id"`
	Status       string     `json:"status"`
	Step         *string    `json:"step"`
	Priority     int        `json:"priority"`
	AttemptCount int        `json:"attempt_count"`
	NextRetryAt  *time.Time `json:"next_retry_at"`
	StartedAt    *time.Time `json:"started_at"`
	LastError    *string    `json:"last_error"`
}

type batchDetailDTO struct {
	batchDTO
	Jobs []jobDTO `json:"jobs"`
}

func toBatchDTO(b *jobs.Batch) batchDTO {
	return batchDTO{
		ID:          b.ID,
		CustomerID:  b.CustomerID,
		TotalJobs:   b.TotalJobs,
		Completed:   b.Completed,
		Failed:      b.Failed,
		Status:      string(b.Status),
		PauseReason: b.PauseReason,
		ResumeAfter: b.ResumeAfter,
		CreatedAt:   b.CreatedAt,
	}
}

func toJobDTO(j *jobs.Job) jobDTO {
	return jobDTO{
		ID:           j.ID,
		TrackingID:   j.TrackingID,
		Status:       string(j.Status),
		Step:         j.Step,
		Priority:     j.Priority,
		AttemptCount: j.AttemptCount,
		NextRetryAt:  j.NextRetryAt,
		StartedAt:    j.StartedAt,
		LastError:    j.LastError,
	}
}

// Submit queues provisioning for a set of the customer's trackings.
func (h *BatchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	c, err := h.Customers.Get(r.Context(), tid, id64)
	if errors.Is(err, customer.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	var req submitBatchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	b, err := h.Svc.SubmitBatch(r.Context(), tracking.SubmitBatchInput{
		TenantID:    tid,
		UserID:      uid,
		CustomerID:  c.ID,
		TrackingIDs: req.TrackingIDs,
		Priority:    req.Priority,
	})
	switch {
	case errors.Is(err, tracking.ErrNoTrackings):
		http.Error(w, "no trackings selected", http.StatusBadRequest)
		return
	case errors.Is(err, tracking.ErrUnknownTracking):
		http.Error(w, "unknown tracking", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toBatchDTO(b))
}

func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	var customerID uint64
	if v := r.URL.Query().Get("customer_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid customer_id", http.StatusBadRequest)
			return
		}
		customerID = n
	}

	rows, err := h.Repo.ListBatches(r.Context(), tid, customerID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	out := make([]batchDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toBatchDTO(&rows[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	b, js, err := h.Repo.BatchWithJobs(r.Context(), tid, id64)
	if errors.Is(err, jobs.ErrBatchNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	detail := batchDetailDTO{batchDTO: toBatchDTO(b), Jobs: make([]jobDTO, 0, len(js))}
	for i := range js {
		detail.Jobs = append(detail.Jobs, toJobDTO(&js[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(detail)
}

func (h *BatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	b, err := h.Repo.Cancel(r.Context(), id64, tid)
	switch {
	case errors.Is(err, jobs.ErrBatchNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, jobs.ErrBatchTerminal):
		http.Error(w, "batch already finished", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	ev := broadcast.Event{
		Type:       broadcast.EventBatchCancelled,
		BatchID:    b.ID,
		CustomerID: b.CustomerID,
		Completed:  b.Completed,
		Failed:     b.Failed,
		Total:      b.TotalJobs,
		At:         time.Now().UTC(),
	}
	h.Events.Publish(r.Context(), broadcast.BatchChannel(b.ID), ev)
	h.Events.Publish(r.Context(), broadcast.CustomerChannel(b.CustomerID), ev)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toBatchDTO(b))
}
