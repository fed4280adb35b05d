package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chatHandler "github.com/oncolife/chatbot/internal/handler/chat"
	"github.com/oncolife/chatbot/internal/middleware"
	"github.com/oncolife/chatbot/internal/model/chat"
	chatservice "github.com/oncolife/chatbot/internal/service/chat"
	"github.com/oncolife/chatbot/internal/service/push"
	"github.com/oncolife/chatbot/internal/service/triage"
	"github.com/oncolife/chatbot/pkg/logger"
	"github.com/oncolife/chatbot/pkg/metrics"
	"github.com/oncolife/chatbot/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler serves the per-chat push channel.
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	engine   *triage.Engine
	hub      push.Hub
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler returns a push channel handler.
func NewWebSocketHandler(chatSvc *chatservice.Service, engine *triage.Engine, hub push.Hub, log *logger.Logger) *WebSocketHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &WebSocketHandler{
		chatSvc: chatSvc,
		engine:  engine,
		hub:     hub,
		log:     log.Component("handler.ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{chatUUID}", h.handleWebSocket)
}

// connection serializes writes on one socket.
type connection struct {
	conn     *websocket.Conn
	chatUUID string
	writeMu  sync.Mutex
}

func (c *connection) write(env chat.PushEnvelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// handleWebSocket upgrades the request and serves the channel.
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	chatUUID := chi.URLParam(r, "chatUUID")
	record, err := h.chatSvc.GetChat(r.Context(), chatUUID)
	if err != nil || record.PatientID != middleware.GetPatientID(r.Context()) {
		utils.RespondError(w, http.StatusNotFound, chatservice.ErrSessionNotFound.Error())
		return
	}

	updates, unsubscribe, err := h.hub.Subscribe(chatUUID)
	if err != nil {
		h.log.Error("push subscribe failed", zap.String("chat_uuid", chatUUID), zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "push channel unavailable")
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("chat_uuid", chatUUID), zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WebSocketConnectionsActive.Inc()
	defer metrics.WebSocketConnectionsActive.Dec()

	log := h.log.WithChat(chatUUID, record.PatientID)
	log.Info("push channel opened")
	defer log.Info("push channel closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{conn: conn, chatUUID: chatUUID}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	if err := c.write(chat.PushEnvelope{
		Type:      chat.PushConnectionEstablished,
		ChatUUID:  chatUUID,
		ChatState: record.State,
	}); err != nil {
		log.Warn("write handshake failed", zap.Error(err))
		return
	}

	go h.pingLoop(ctx, conn)
	go h.forward(ctx, c, updates, log)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", zap.Error(err))
			}
			return
		}

		h.handleMessage(ctx, c, data, log)
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, data []byte, log *logger.Logger) {
	var env chat.Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		h.sendError(c, "invalid message", log)
		return
	}
	if env.Type != chat.EnvelopeUserMessage {
		h.sendError(c, "unsupported message type", log)
		return
	}

	result, err := h.engine.Process(ctx, c.chatUUID, env)
	if err != nil {
		if chatHandler.StatusFor(err) == http.StatusInternalServerError {
			log.Error("process message failed", zap.Error(err))
			h.sendError(c, "internal error", log)
			return
		}
		h.sendError(c, err.Error(), log)
		return
	}

	reply := chat.PushFromMessage(chat.PushAssistantMessage, result.Assistant, result.State)
	if err := h.hub.Publish(ctx, c.chatUUID, reply); err != nil {
		log.Warn("publish reply failed, writing directly", zap.Error(err))
		if err := c.write(reply); err != nil {
			log.Warn("write reply failed", zap.Error(err))
		}
	}
}

// forward writes hub messages to the socket.
func (h *WebSocketHandler) forward(ctx context.Context, c *connection, updates <-chan chat.PushEnvelope, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-updates:
			if !ok {
				return
			}
			if err := c.write(env); err != nil {
				log.Debug("write push failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendError(c *connection, message string, log *logger.Logger) {
	if err := c.write(chat.PushEnvelope{Type: chat.PushError, ChatUUID: c.chatUUID, Content: message}); err != nil {
		log.Debug("write error failed", zap.Error(err))
	}
}

// pingLoop sends periodic pings.
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
