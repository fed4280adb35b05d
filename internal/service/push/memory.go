package push

import (
	"context"
	"sync"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/pkg/metrics"
)

// MemoryHub delivers envelopes to subscribers in this process.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *MemoryHub) Publish(_ context.Context, chatUUID string, env chat.PushEnvelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[chatUUID] {
		sub.deliver(env)
	}
	metrics.PushPublished.WithLabelValues("memory", env.Type).Inc()
	return nil
}

func (h *MemoryHub) Subscribe(chatUUID string) (<-chan chat.PushEnvelope, func(), error) {
	sub := newSubscriber()

	h.mu.Lock()
	if h.subs[chatUUID] == nil {
		h.subs[chatUUID] = make(map[*subscriber]struct{})
	}
	h.subs[chatUUID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[chatUUID], sub)
			if len(h.subs[chatUUID]) == 0 {
				delete(h.subs, chatUUID)
			}
			h.mu.Unlock()
			sub.close()
		})
	}
	return sub.ch, cancel, nil
}

// Subscribers reports how many subscriptions watch chatUUID.
func (h *MemoryHub) Subscribers(chatUUID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chatUUID])
}

// Close ends every subscription.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.close()
		}
	}
	return nil
}
