package chat

import (
	"strings"
	"time"
)

// EnvelopeUserMessage is the only outbound envelope type.
const EnvelopeUserMessage = "user_message"

// Push envelope types.
const (
	PushConnectionEstablished = "connection_established"
	PushAssistantMessage      = "assistant_message"
	PushSystemMessage         = "system_message"
	PushError                 = "error"
)

// Envelope is the uniform outbound form of every user interaction.
type Envelope struct {
	Type        string      `json:"type"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content"`
}

// NewEnvelope builds a user_message envelope.
func NewEnvelope(messageType MessageType, content string) Envelope {
	return Envelope{Type: EnvelopeUserMessage, MessageType: messageType, Content: content}
}

// SendRequest is the body of the send-message call.
type SendRequest struct {
	Envelope
	ChatUUID string `json:"chat_uuid"`
}

// SendResult is the reply to the send-message call. Only Reply is
// rendered by the client; the remaining fields describe the server turn.
type SendResult struct {
	Reply         string            `json:"reply"`
	ChatUUID      string            `json:"chat_uuid,omitempty"`
	MessageType   MessageType       `json:"message_type,omitempty"`
	Options       []string          `json:"options,omitempty"`
	MaxSelections int               `json:"max_selections,omitempty"`
	State         ConversationState `json:"state,omitempty"`

	// Deferred marks a send whose reply arrives over the push channel.
	Deferred bool `json:"-"`
}

// PushEnvelope is a server-originated message on the push channel.
type PushEnvelope struct {
	Type          string            `json:"type"`
	ID            int64             `json:"id,omitempty"`
	ChatUUID      string            `json:"chat_uuid,omitempty"`
	MessageType   MessageType       `json:"message_type,omitempty"`
	Content       string            `json:"content,omitempty"`
	Options       []string          `json:"options,omitempty"`
	MaxSelections int               `json:"max_selections,omitempty"`
	ChatState     ConversationState `json:"chat_state,omitempty"`
}

// Handshake reports whether the envelope is the connection notice.
func (e PushEnvelope) Handshake() bool {
	return strings.EqualFold(e.Type, PushConnectionEstablished)
}

// Message maps the envelope onto an assistant turn.
func (e PushEnvelope) Message(chatUUID string, id int64, now time.Time) Message {
	msgType := e.MessageType
	if msgType == "" {
		msgType = TypeText
	}

	msg := Message{
		ID:          id,
		ChatUUID:    chatUUID,
		Sender:      SenderAssistant,
		MessageType: msgType,
		Content:     e.Content,
		CreatedAt:   now,
	}
	if len(e.Options) > 0 {
		msg.StructuredData = &StructuredData{
			Options:       append([]string(nil), e.Options...),
			MaxSelections: e.MaxSelections,
		}
	}
	return msg
}

// PushFromMessage is the inverse of Message, used by the server side.
func PushFromMessage(envType string, msg Message, state ConversationState) PushEnvelope {
	env := PushEnvelope{
		Type:        envType,
		ID:          msg.ID,
		ChatUUID:    msg.ChatUUID,
		MessageType: msg.MessageType,
		Content:     msg.Content,
		ChatState:   state,
	}
	if msg.StructuredData != nil {
		env.Options = append([]string(nil), msg.StructuredData.Options...)
		env.MaxSelections = msg.StructuredData.MaxSelections
	}
	return env
}
