package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"beacon/internal/auth"
	"beacon/internal/customer"
	"beacon/internal/lead"

	"github.com/go-chi/chi/v5"
)

type LeadHandler struct {
	Customers *customer.Service
	Svc       *lead.Service
}

type captureLeadReq struct {
	SiteKey    string `json:"site_key" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"omitempty,max=120"`
	Message    string `json:"message" validate:"omitempty,max=2000"`
	SourcePath string `json:"source_path" validate:"omitempty,max=255"`
}

type leadDTO struct {
	ID         uint64    `json:"id"`
	CustomerID uint64    `json:"customer_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	SourcePath string    `json:"source_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// Capture is the public endpoint behind customer site forms. It
// authenticates by site key, not by user token.
func (h *LeadHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req captureLeadReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	l, err := h.Svc.Capture(r.Context(), lead.CaptureInput{
		SiteKey:    req.SiteKey,
		Email:      req.Email,
		Name:       req.Name,
		Message:    req.Message,
		SourcePath: req.SourcePath,
	})
	if errors.Is(err, lead.ErrUnknownSiteKey) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": l.ID})
}

func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
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

	rows, err := h.Svc.List(r.Context(), c.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	out := make([]leadDTO, 0, len(rows))
	for _, l := range rows {
		out = append(out, leadDTO{
			ID:         l.ID,
			CustomerID: l.CustomerID,
			Email:      l.Email,
			Name:       l.Name,
			Message:    l.Message,
			SourcePath: l.SourcePath,
			CreatedAt:  l.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
