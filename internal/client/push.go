package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/pkg/logger"
)

const (
	pushPathPrefix   = "/api/chat/ws/"
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ErrPushUnavailable is returned when sending over a chat whose push
// channel is not open.
var ErrPushUnavailable = errors.New("push channel not open")

// PushClient opens push channels and can send envelopes over them.
type PushClient struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	log     *logger.Logger

	mu     sync.Mutex
	active map[string]*PushChannel
}

// NewPushClient targets the backend at baseURL (http or https).
func NewPushClient(baseURL, token string, log *logger.Logger) *PushClient {
	if log == nil {
		log = logger.Nop()
	}
	return &PushClient{
		baseURL: baseURL,
		token:   token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log:    log.Component("push"),
		active: make(map[string]*PushChannel),
	}
}

// Open dials the push channel of chatUUID and starts its read loop. lost
// is called once if the server side ends the channel; it is not called
// after Close.
func (c *PushClient) Open(ctx context.Context, chatUUID string, deliver func(chat.PushEnvelope), lost func()) (io.Closer, error) {
	ch, err := c.Dial(ctx, chatUUID, deliver, lost)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Dial is Open with the concrete channel type.
func (c *PushClient) Dial(ctx context.Context, chatUUID string, deliver func(chat.PushEnvelope), lost func()) (*PushChannel, error) {
	endpoint, err := pushURL(c.baseURL, chatUUID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial push channel: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	ch := &PushChannel{
		conn:     conn,
		chatUUID: chatUUID,
		deliver:  deliver,
		lost:     lost,
		log:      c.log.With(zap.String("chat_uuid", chatUUID)),
		done:     make(chan struct{}),
	}
	ch.onClose = func() { c.forget(chatUUID, ch) }

	c.mu.Lock()
	c.active[chatUUID] = ch
	c.mu.Unlock()

	go ch.readLoop()
	c.log.Info("push channel open", zap.String("chat_uuid", chatUUID))
	return ch, nil
}

// SendMessage sends env over the open channel of chatUUID. The reply
// arrives later through that channel, so the result is Deferred.
func (c *PushClient) SendMessage(_ context.Context, env chat.Envelope, chatUUID string) (chat.SendResult, error) {
	c.mu.Lock()
	ch := c.active[chatUUID]
	c.mu.Unlock()
	if ch == nil {
		return chat.SendResult{}, ErrPushUnavailable
	}
	if err := ch.Send(env); err != nil {
		return chat.SendResult{}, err
	}
	return chat.SendResult{ChatUUID: chatUUID, Deferred: true}, nil
}

func (c *PushClient) forget(chatUUID string, ch *PushChannel) {
	c.mu.Lock()
	if c.active[chatUUID] == ch {
		delete(c.active, chatUUID)
	}
	c.mu.Unlock()
}

// PushChannel is one open WebSocket for one chat.
type PushChannel struct {
	conn     *websocket.Conn
	chatUUID string
	deliver  func(chat.PushEnvelope)
	lost     func()
	log      *logger.Logger
	onClose  func()

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   bool
	done      chan struct{}
}

func (p *PushChannel) readLoop() {
	dropped := p.read()
	p.onClose()
	close(p.done)
	if dropped && p.lost != nil {
		p.lost()
	}
}

// read runs until the connection ends. It reports whether the server side
// ended it rather than Close.
func (p *PushChannel) read() bool {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.writeMu.Lock()
			closing := p.closing
			p.writeMu.Unlock()
			if closing {
				return false
			}
			p.log.Warn("push channel lost", zap.Error(err))
			return true
		}

		var env chat.PushEnvelope
		if err := sonic.Unmarshal(data, &env); err != nil || strings.TrimSpace(env.Type) == "" {
			p.log.Warn("dropping malformed push payload", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if env.Handshake() {
			p.log.Debug("push channel established", zap.String("chat_state", string(env.ChatState)))
			continue
		}
		if p.deliver != nil {
			p.deliver(env)
		}
	}
}

// Send writes an envelope to the server.
func (p *PushChannel) Send(env chat.Envelope) error {
	payload, err := sonic.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closing {
		return ErrPushUnavailable
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Done is closed when the read loop exits.
func (p *PushChannel) Done() <-chan struct{} {
	return p.done
}

// Close sends a close frame and releases the connection.
func (p *PushChannel) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		p.closing = true
		_ = p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}

func pushURL(baseURL, chatUUID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + pushPathPrefix + url.PathEscape(chatUUID)
	return u.String(), nil
}
