package broadcast

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 16

// Hub is the in-process publisher. Subscribers get a buffered channel; slow
// consumers lose events rather than stalling the pipeline.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
	log  *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[chan Event]struct{}),
		log:  log,
	}
}

// Subscribe registers a listener on channel. The returned cancel func must be
// called to release the subscription; it closes the event channel.
func (h *Hub) Subscribe(channel string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[channel] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[channel]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, channel)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(_ context.Context, channel string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[channel] {
		select {
		case ch <- ev:
		default:
			h.log.Debug("dropping event for slow subscriber",
				zap.String("channel", channel),
				zap.String("type", ev.Type))
		}
	}
}
