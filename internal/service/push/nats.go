package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/pkg/logger"
	"github.com/oncolife/chatbot/pkg/metrics"
)

// NATSConfig holds the NATS connection settings.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string
}

// NATSHub routes envelopes through NATS subjects so every API replica can
// reach the websocket that watches a chat.
type NATSHub struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// ConnectNATS dials the server described by cfg.
func ConnectNATS(cfg NATSConfig, log *logger.Logger) (*NATSHub, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("push.nats")

	opts := []nats.Option{
		nats.Name("oncochat-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("NATS error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSHub(nc, cfg.SubjectPrefix, log), nil
}

// NewNATSHub wraps an established connection.
func NewNATSHub(nc *nats.Conn, prefix string, log *logger.Logger) *NATSHub {
	if prefix == "" {
		prefix = "oncochat.push"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NATSHub{conn: nc, prefix: prefix, log: log}
}

// Subject returns the subject carrying envelopes for chatUUID.
func (h *NATSHub) Subject(chatUUID string) string {
	return h.prefix + "." + chatUUID
}

func (h *NATSHub) Publish(_ context.Context, chatUUID string, env chat.PushEnvelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode push envelope: %w", err)
	}
	if err := h.conn.Publish(h.Subject(chatUUID), data); err != nil {
		return fmt.Errorf("publish push envelope: %w", err)
	}
	metrics.PushPublished.WithLabelValues("nats", env.Type).Inc()
	return nil
}

func (h *NATSHub) Subscribe(chatUUID string) (<-chan chat.PushEnvelope, func(), error) {
	out := newSubscriber()
	sub, err := h.conn.Subscribe(h.Subject(chatUUID), func(msg *nats.Msg) {
		var env chat.PushEnvelope
		if err := sonic.Unmarshal(msg.Data, &env); err != nil {
			h.log.Warn("dropping malformed push envelope", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		out.deliver(env)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", h.Subject(chatUUID), err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				h.log.Debug("unsubscribe failed", zap.String("subject", sub.Subject), zap.Error(err))
			}
			out.close()
		})
	}
	return out.ch, cancel, nil
}

// Close drains the connection.
func (h *NATSHub) Close() error {
	return h.conn.Drain()
}
