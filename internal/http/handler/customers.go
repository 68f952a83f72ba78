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

type CustomerHandler struct {
	Svc *customer.Service
	DB  *gorm.DB
}

type customerReq struct {
	Name              string   `json:"name" validate:"required,max=120"`
	DomainURL         string   `json:"domain_url" validate:"required,max=255"`
	ContactEmail      string   `json:"contact_email" validate:"omitempty,email"`
	ConsentCategories []string `json:"consent_categories" validate:"dive,min=1,max=64"`
}

type consentReq struct {
	Categories []string `json:"categories" validate:"required,dive,min=1,max=64"`
}

type linkGoogleAccountReq struct {
	AccountEmail string `json:"account_email" validate:"required,email"`
	ContainerID  string `json:"container_id" validate:"required,max=64"`
	AdsAccountID string `json:"ads_account_id" validate:"required,max=64"`
	AccessToken  string `json:"access_token" validate:"required"`
}

type customerDTO struct {
	ID                uint64    `json:"id"`
	Name              string    `json:"name"`
	DomainURL         string    `json:"domain_url"`
	ContactEmail      string    `json:"contact_email"`
	ConsentCategories []string  `json:"consent_categories"`
	SiteKey           string    `json:"site_key"`
	CreatedAt         time.Time `json:"created_at"`
}

type googleAccountDTO struct {
	ID           uint64    `json:"id"`
	CustomerID   uint64    `json:"customer_id"`
	AccountEmail string    `json:"account_email"`
	ContainerID  string    `json:"container_id"`
	AdsAccountID string    `json:"ads_account_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toCustomerDTO(c *customer.Customer) customerDTO {
	return customerDTO{
		ID:                c.ID,
		Name:              c.Name,
		DomainURL:         c.DomainURL,
		ContactEmail:      c.ContactEmail,
		ConsentCategories: []string(c.ConsentCategories),
		SiteKey:           c.SiteKey,
		CreatedAt:         c.CreatedAt,
	}
}

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	var req customerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	c, err := h.Svc.Create(r.Context(), tid, customer.CreateInput{
		Name:              req.Name,
		DomainURL:         req.DomainURL,
		ContactEmail:      req.ContactEmail,
		ConsentCategories: req.ConsentCategories,
	})
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toCustomerDTO(c))
}

func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	rows, err := h.Svc.List(r.Context(), tid)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	out := make([]customerDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toCustomerDTO(&rows[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	c, err := h.Svc.Get(r.Context(), tid, id64)
	if errors.Is(err, customer.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toCustomerDTO(c))
}

func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req customerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	c, err := h.Svc.Update(r.Context(), tid, id64, customer.UpdateInput{
		Name:         req.Name,
		DomainURL:    req.DomainURL,
		ContactEmail: req.ContactEmail,
	})
	if errors.Is(err, customer.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toCustomerDTO(c))
}

func (h *CustomerHandler) SetConsent(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req consentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	c, err := h.Svc.SetConsent(r.Context(), tid, id64, req.Categories)
	if errors.Is(err, customer.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toCustomerDTO(c))
}

func (h *CustomerHandler) LinkGoogleAccount(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req linkGoogleAccountReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	acct, err := h.Svc.LinkGoogleAccount(r.Context(), tid, id64, customer.LinkGoogleAccountInput{
		AccountEmail: req.AccountEmail,
		ContainerID:  req.ContainerID,
		AdsAccountID: req.AdsAccountID,
		AccessToken:  req.AccessToken,
	})
	if errors.Is(err, customer.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(googleAccountDTO{
		ID:           acct.ID,
		CustomerID:   acct.CustomerID,
		AccountEmail: acct.AccountEmail,
		ContainerID:  acct.ContainerID,
		AdsAccountID: acct.AdsAccountID,
		UpdatedAt:    acct.UpdatedAt,
	})
}

// Snippet returns the embed tag for the customer's site. It needs a linked
// google account for the container id.
func (h *CustomerHandler) Snippet(w http.ResponseWriter, r *http.Request) {
	tid, _ := auth.TenantIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	c, err := h.Svc.Get(r.Context(), tid, id64)
	if errors.Is(err, customer.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	var acct customer.GoogleAccount
	if err := h.DB.Where("customer_id = ?", c.ID).First(&acct).Error; err != nil {
		http.Error(w, "google account not linked", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"snippet": tracking.Snippet(c.SiteKey, acct.ContainerID),
	})
}
