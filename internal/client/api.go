// Package client talks to the chat backend: session bootstrap and
// send-message over HTTP, and the per-chat WebSocket push channel.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/pkg/logger"
)

const (
	todaySessionPath = "/api/chat/session/today"
	newSessionPath   = "/api/chat/session/new"
	sendMessagePath  = "/api/chat/messages"

	defaultTimeout  = 30 * time.Second
	DefaultTimezone = "America/Los_Angeles"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// APIOptions configures an APIClient.
type APIOptions struct {
	BaseURL  string
	Token    string
	Timezone string
	Timeout  time.Duration
	Logger   *logger.Logger
}

// APIClient is the request/response half of the backend protocol.
type APIClient struct {
	http     *resty.Client
	timezone string
	log      *logger.Logger
}

// NewAPIClient builds a client for the backend at opts.BaseURL.
func NewAPIClient(opts APIOptions) *APIClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timezone := strings.TrimSpace(opts.Timezone)
	if timezone == "" {
		timezone = DefaultTimezone
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	if opts.Token != "" {
		httpClient.SetAuthToken(opts.Token)
	}

	return &APIClient{http: httpClient, timezone: timezone, log: log.Component("api_client")}
}

// LoadTodaySession fetches (or lets the server create) today's chat.
func (c *APIClient) LoadTodaySession(ctx context.Context) (chat.ChatSession, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("timezone", c.timezone).
		Get(todaySessionPath)
	if err != nil {
		return chat.ChatSession{}, fmt.Errorf("load today's session: %w", err)
	}

	var session chat.ChatSession
	if err := decode(resp, &session); err != nil {
		return chat.ChatSession{}, fmt.Errorf("load today's session: %w", err)
	}
	c.log.Debug("loaded today's session", zap.String("chat_uuid", session.ChatUUID), zap.Int("messages", len(session.Messages)))
	return session, nil
}

// StartNewSession asks the server for a fresh chat.
func (c *APIClient) StartNewSession(ctx context.Context) (chat.ChatSession, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"timezone": c.timezone}).
		Post(newSessionPath)
	if err != nil {
		return chat.ChatSession{}, fmt.Errorf("start new session: %w", err)
	}

	var session chat.ChatSession
	if err := decode(resp, &session); err != nil {
		return chat.ChatSession{}, fmt.Errorf("start new session: %w", err)
	}
	return session, nil
}

// SendMessage posts one envelope and returns the reply.
func (c *APIClient) SendMessage(ctx context.Context, env chat.Envelope, chatUUID string) (chat.SendResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(chat.SendRequest{Envelope: env, ChatUUID: chatUUID}).
		Post(sendMessagePath)
	if err != nil {
		return chat.SendResult{}, fmt.Errorf("send message: %w", err)
	}

	var result chat.SendResult
	if err := decode(resp, &result); err != nil {
		return chat.SendResult{}, fmt.Errorf("send message: %w", err)
	}
	return result, nil
}

func decode(resp *resty.Response, out any) error {
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		var body struct {
			Error string `json:"error"`
		}
		_ = sonic.Unmarshal(resp.Body(), &body)
		return &StatusError{Code: resp.StatusCode(), Message: body.Error}
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
