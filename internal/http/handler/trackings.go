package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"beacon/internal/auth"
	"beacon/internal/customer"
	"beacon/internal/tracking"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type TrackingHandler struct {
	Customers *customer.Service
	Svc       *tracking.Service
	Health    *tracking.HealthChecker
	DB        *gorm.DB
}

type createTrackingReq struct {
	Name              string `json:"name" validate:"required,max=120"`
	Kind              string `json:"kind" validate:"required,oneof=pageview conversion remarketing"`
	MeasurementDomain string `json:"measurement_domain" validate:"required,max=255"`
}

type trackingDTO struct {
	ID                uint64    `json:"id"`
	CustomerID        uint64    `json:"customer_id"`
	Name              string    `json:"name"`
	Kind              string    `json:"kind"`
	MeasurementDomain string    `json:"measurement_domain"`
	ProvisionState    string    `json:"provision_state"`
	TagRef            *string   `json:"tag_ref"`
	ConversionRef     *string   `json:"conversion_ref"`
	CreatedAt         time.Time `json:"created_at"`
}

func toTrackingDTO(tr *tracking.Tracking) trackingDTO {
	return trackingDTO{
		ID:                tr.ID,
		CustomerID:        tr.CustomerID,
		Name:              tr.Name,
		Kind:              tr.Kind,
		MeasurementDomain: tr.MeasurementDomain,
		ProvisionState:    tr.ProvisionState,
		TagRef:            tr.TagRef,
		ConversionRef:     tr.ConversionRef,
		CreatedAt:         tr.CreatedAt,
	}
}

// ownedCustomer resolves the {id} path param against the caller's tenant.
func (h *TrackingHandler) ownedCustomer(w http.ResponseWriter, r *http.Request) (*customer.Customer, bool) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}

	c, err := h.Customers.Get(r.Context(), tid, id64)
	if errors.Is(err, customer.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	return c, true
}

func (h *TrackingHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedCustomer(w, r)
	if !ok {
		return
	}

	var req createTrackingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	tr, err := h.Svc.Create(r.Context(), c.ID, tracking.CreateInput{
		Name:              req.Name,
		Kind:              req.Kind,
		MeasurementDomain: req.MeasurementDomain,
	})
	if errors.Is(err, tracking.ErrInvalidKind) {
		http.Error(w, "invalid kind", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toTrackingDTO(tr))
}

func (h *TrackingHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedCustomer(w, r)
	if !ok {
		return
	}

	rows, err := h.Svc.List(r.Context(), c.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	out := make([]trackingDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toTrackingDTO(&rows[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *TrackingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedCustomer(w, r)
	if !ok {
		return
	}

	tr64, err := strconv.ParseUint(chi.URLParam(r, "trackingID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	err = h.Svc.Delete(r.Context(), c.ID, tr64)
	if errors.Is(err, tracking.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CheckHealth fetches the customer's site and verifies the container tag is
// installed. The result also goes out on the customer channel.
func (h *TrackingHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedCustomer(w, r)
	if !ok {
		return
	}

	var acct customer.GoogleAccount
	if err := h.DB.Where("customer_id = ?", c.ID).First(&acct).Error; err != nil {
		http.Error(w, "google account not linked", http.StatusConflict)
		return
	}

	report := h.Health.Check(r.Context(), tracking.HealthInput{
		CustomerID:  c.ID,
		SiteURL:     c.DomainURL,
		ContainerID: acct.ContainerID,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
