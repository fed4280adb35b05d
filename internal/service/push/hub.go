// Package push fans assistant and system envelopes out to the websocket
// connections watching a chat.
package push

import (
	"context"
	"sync"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/pkg/metrics"
)

const subscriberBuffer = 16

// Hub routes push envelopes by chat.
type Hub interface {
	Publish(ctx context.Context, chatUUID string, env chat.PushEnvelope) error
	// Subscribe returns a channel of envelopes for chatUUID and a function
	// that ends the subscription and closes the channel.
	Subscribe(chatUUID string) (<-chan chat.PushEnvelope, func(), error)
	Close() error
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan chat.PushEnvelope
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan chat.PushEnvelope, subscriberBuffer)}
}

// deliver never blocks; a full subscriber loses the envelope.
func (s *subscriber) deliver(env chat.PushEnvelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- env:
		return true
	default:
		metrics.PushDropped.Inc()
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
