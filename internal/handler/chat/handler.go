package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/middleware"
	"github.com/oncolife/chatbot/internal/model/chat"
	chatService "github.com/oncolife/chatbot/internal/service/chat"
	"github.com/oncolife/chatbot/internal/service/push"
	"github.com/oncolife/chatbot/internal/service/triage"
	"github.com/oncolife/chatbot/pkg/logger"
	"github.com/oncolife/chatbot/pkg/utils"
)

// Handler serves the chat HTTP API.
type Handler struct {
	chatSvc *chatService.Service
	engine  *triage.Engine
	hub     push.Hub
	log     *logger.Logger
}

// New returns a chat handler.
func New(chatSvc *chatService.Service, engine *triage.Engine, hub push.Hub, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		chatSvc: chatSvc,
		engine:  engine,
		hub:     hub,
		log:     log.Component("handler.chat"),
	}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session/today", h.handleTodaySession)
	r.Post("/session/new", h.handleNewSession)
	r.Post("/messages", h.handleSendMessage)
	r.Get("/{chatUUID}/full", h.handleFullChat)
	r.Get("/{chatUUID}/state", h.handleChatState)
	r.Post("/{chatUUID}/notify", h.handleNotify)
	r.Delete("/{chatUUID}", h.handleDeleteChat)
}

// handleTodaySession returns today's session, creating it if needed.
func (h *Handler) handleTodaySession(w http.ResponseWriter, r *http.Request) {
	patientID := middleware.GetPatientID(r.Context())
	session, err := h.chatSvc.TodaySession(r.Context(), patientID, r.URL.Query().Get("timezone"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleNewSession always creates a session. The timezone comes from the
// body, or the query string when the body has none.
func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Timezone string `json:"timezone"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	timezone := payload.Timezone
	if timezone == "" {
		timezone = r.URL.Query().Get("timezone")
	}

	patientID := middleware.GetPatientID(r.Context())
	session, err := h.chatSvc.NewSession(r.Context(), patientID, timezone)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleSendMessage runs one user turn and returns the assistant reply.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload chat.SendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ChatUUID == "" {
		utils.RespondError(w, http.StatusBadRequest, "chat_uuid is required")
		return
	}
	if payload.Type != "" && payload.Type != chat.EnvelopeUserMessage {
		utils.RespondError(w, http.StatusBadRequest, "unsupported envelope type")
		return
	}

	if _, ok := h.ownedChat(w, r, payload.ChatUUID); !ok {
		return
	}

	result, err := h.engine.Process(r.Context(), payload.ChatUUID, payload.Envelope)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, ToSendResult(result))
}

// ToSendResult converts a triage turn into the response body.
func ToSendResult(result triage.Result) chat.SendResult {
	msg := result.Assistant
	return chat.SendResult{
		Reply:         msg.Content,
		ChatUUID:      msg.ChatUUID,
		MessageType:   msg.MessageType,
		Options:       msg.Options(),
		MaxSelections: maxSelections(msg),
		State:         result.State,
	}
}

func maxSelections(msg chat.Message) int {
	if msg.StructuredData == nil {
		return 0
	}
	return msg.StructuredData.MaxSelections
}

// handleFullChat returns the chat record with every message.
func (h *Handler) handleFullChat(w http.ResponseWriter, r *http.Request) {
	record, ok := h.ownedChat(w, r, chi.URLParam(r, "chatUUID"))
	if !ok {
		return
	}

	messages, err := h.chatSvc.LoadTranscript(r.Context(), record.ChatUUID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chat":     record,
		"messages": messages,
	})
}

// handleChatState returns a summary of the chat state.
func (h *Handler) handleChatState(w http.ResponseWriter, r *http.Request) {
	record, ok := h.ownedChat(w, r, chi.URLParam(r, "chatUUID"))
	if !ok {
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chat_uuid":          record.ChatUUID,
		"conversation_state": record.State,
		"symptoms":           record.Symptoms,
		"overall_feeling":    record.OverallFeeling,
		"summary":            record.Summary,
	})
}

// handleNotify stores a system message and pushes it to connected clients.
func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.Content = strings.TrimSpace(payload.Content)
	if payload.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	record, ok := h.ownedChat(w, r, chi.URLParam(r, "chatUUID"))
	if !ok {
		return
	}

	msg, err := h.chatSvc.SaveMessage(r.Context(), chat.Message{
		ChatUUID:    record.ChatUUID,
		Sender:      chat.SenderAssistant,
		MessageType: chat.TypeText,
		Content:     payload.Content,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if err := h.publish(r.Context(), chat.PushFromMessage(chat.PushSystemMessage, msg, record.State)); err != nil {
		h.log.Warn("push notify failed", zap.String("chat_uuid", record.ChatUUID), zap.Error(err))
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "id": msg.ID})
}

// handleDeleteChat deletes a chat.
func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatUUID := chi.URLParam(r, "chatUUID")
	if err := h.chatSvc.DeleteChat(r.Context(), chatUUID, middleware.GetPatientID(r.Context())); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publish(ctx context.Context, env chat.PushEnvelope) error {
	if h.hub == nil {
		return nil
	}
	return h.hub.Publish(ctx, env.ChatUUID, env)
}

// ownedChat loads a chat owned by the caller. On failure the error
// response has already been written.
func (h *Handler) ownedChat(w http.ResponseWriter, r *http.Request, chatUUID string) (chat.Chat, bool) {
	record, err := h.chatSvc.GetChat(r.Context(), chatUUID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return chat.Chat{}, false
	}
	if record.PatientID != middleware.GetPatientID(r.Context()) {
		utils.RespondError(w, http.StatusNotFound, chatService.ErrSessionNotFound.Error())
		return chat.Chat{}, false
	}
	return record, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		utils.RespondError(w, status, "internal error")
		return
	}
	utils.RespondError(w, status, err.Error())
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrPatientRequired):
		return http.StatusUnauthorized
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, triage.ErrEmptyInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
