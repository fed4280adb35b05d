package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageType tags the kind of content a Message carries.
type MessageType string

const (
	TypeText                MessageType = "text"
	TypeButtonResponse      MessageType = "button_response"
	TypeMultiSelectResponse MessageType = "multi_select_response"
	TypeFeelingResponse     MessageType = "feeling_response"
	TypeSingleSelect        MessageType = "single_select"
	TypeMultiSelect         MessageType = "multi_select"
	TypeFeelingSelect       MessageType = "feeling_select"
	TypeButtonPrompt        MessageType = "button_prompt"
	TypeSummary             MessageType = "summary"
	TypeEnd                 MessageType = "end"
)

// NormalizeType maps the hyphenated spellings some peers emit
// ("single-select") onto the canonical underscore form.
func NormalizeType(raw string) MessageType {
	return MessageType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
}

// UnmarshalJSON accepts both spellings of a message type.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = NormalizeType(raw)
	return nil
}

// StructuredData carries the options of a selection prompt, or the
// selections of a response to one.
type StructuredData struct {
	Options         []string `json:"options,omitempty"`
	SelectedOptions []string `json:"selected_options,omitempty"`
	MaxSelections   int      `json:"max_selections,omitempty"`
}

// Message is one immutable turn of a conversation.
type Message struct {
	ID             int64           `json:"id"`
	ChatUUID       string          `json:"chat_uuid"`
	Sender         Sender          `json:"sender"`
	MessageType    MessageType     `json:"message_type"`
	Content        string          `json:"content"`
	StructuredData *StructuredData `json:"structured_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Options returns the selectable options of the message, if any.
func (m Message) Options() []string {
	if m.StructuredData == nil {
		return nil
	}
	return m.StructuredData.Options
}
