package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"beacon/internal/auth"
	"beacon/internal/broadcast"
	"beacon/internal/customer"
	"beacon/internal/jobs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type WSHandler struct {
	JWT *auth.JWT
	DB  *gorm.DB
	Hub *broadcast.Hub
	Log *zap.Logger
}

// Serve upgrades the connection and streams events for one channel
// (batches.{id} or customers.{id}). Browsers cannot set headers on
// websocket dials, so the token rides in the query string.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	_, tid, err := h.JWT.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	channel := r.URL.Query().Get("channel")
	if !h.allowed(r.Context(), tid, channel) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.Hub.Subscribe(channel)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		select {
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WSHandler) allowed(ctx context.Context, tenantID uint64, channel string) bool {
	kind, idStr, ok := strings.Cut(channel, ".")
	if !ok {
		return false
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return false
	}

	var n int64
	switch kind {
	case "batches":
		err = h.DB.WithContext(ctx).Model(&jobs.Batch{}).
			Where("id = ? and tenant_id = ?", id, tenantID).
			Count(&n).Error
	case "customers":
		err = h.DB.WithContext(ctx).Model(&customer.Customer{}).
			Where("id = ? and tenant_id = ?", id, tenantID).
			Count(&n).Error
	default:
		return false
	}
	return err == nil && n > 0
}
