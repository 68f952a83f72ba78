package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"beacon/internal/jobs"

	"go.uber.org/zap"
)

// CronHandler exposes the dispatch cycle to an external scheduler. It is
// authenticated by a shared secret, not by user tokens.
type CronHandler struct {
	Secret     string
	Dispatcher *jobs.Dispatcher
	Log        *zap.Logger
}

func (h *CronHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	summary, err := h.Dispatcher.RunCycle(r.Context())
	if err != nil {
		h.Log.Error("dispatch cycle failed", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}
