package conversation

import (
	"strings"
	"time"

	"github.com/oncolife/chatbot/internal/model/chat"
)

// DateLayout is the wire form of a picked date.
const DateLayout = "2006-01-02"

// Interaction is one user response, whatever input produced it. The
// same content string is both rendered and transmitted.
type Interaction interface {
	MessageType() chat.MessageType
	Content() string
	// Vacuous reports an interaction that must not be submitted.
	Vacuous() bool
}

// Text is free-form typed input.
type Text struct {
	Body string
}

func (t Text) MessageType() chat.MessageType { return chat.TypeText }
func (t Text) Content() string               { return strings.TrimSpace(t.Body) }
func (t Text) Vacuous() bool                 { return t.Content() == "" }

// ButtonChoice is the option picked from a single-select prompt.
type ButtonChoice struct {
	Option string
}

func (b ButtonChoice) MessageType() chat.MessageType { return chat.TypeButtonResponse }
func (b ButtonChoice) Content() string               { return b.Option }
func (b ButtonChoice) Vacuous() bool                 { return strings.TrimSpace(b.Option) == "" }

// ChecklistSelections are the options ticked on a multi-select prompt.
type ChecklistSelections struct {
	Selections []string
}

func (c ChecklistSelections) MessageType() chat.MessageType { return chat.TypeMultiSelectResponse }
func (c ChecklistSelections) Content() string               { return strings.Join(c.Selections, ", ") }
func (c ChecklistSelections) Vacuous() bool                 { return len(c.Selections) == 0 }

// Feeling is a label from the feeling picker.
type Feeling struct {
	Label string
}

func (f Feeling) MessageType() chat.MessageType { return chat.TypeFeelingResponse }
func (f Feeling) Content() string               { return f.Label }
func (f Feeling) Vacuous() bool                 { return !IsFeeling(f.Label) }

// Date is a calendar day from the date picker. It travels as text.
type Date struct {
	Day time.Time
}

func (d Date) MessageType() chat.MessageType { return chat.TypeText }
func (d Date) Content() string               { return d.Day.Format(DateLayout) }
func (d Date) Vacuous() bool                 { return d.Day.IsZero() }

// Encode produces the optimistic transcript entry and the outbound
// envelope for an interaction.
func Encode(in Interaction, chatUUID string, id int64, now time.Time) (chat.Message, chat.Envelope) {
	content := in.Content()
	msg := chat.Message{
		ID:          id,
		ChatUUID:    chatUUID,
		Sender:      chat.SenderUser,
		MessageType: in.MessageType(),
		Content:     content,
		CreatedAt:   now,
	}
	if sel, ok := in.(ChecklistSelections); ok {
		msg.StructuredData = &chat.StructuredData{SelectedOptions: cloneStrings(sel.Selections)}
	}
	return msg, chat.NewEnvelope(in.MessageType(), content)
}
