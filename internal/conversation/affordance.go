// Package conversation holds the client-side message flow: which input
// the user is offered next, how an interaction becomes an outbound
// envelope, and the transcript controller tying both to the network.
package conversation

import "github.com/oncolife/chatbot/internal/model/chat"

// Kind is the interactive input offered after the current transcript.
type Kind int

const (
	KindNone Kind = iota
	KindTextInput
	KindButtons
	KindChecklist
	KindFeelingPicker
)

func (k Kind) String() string {
	switch k {
	case KindTextInput:
		return "text_input"
	case KindButtons:
		return "buttons"
	case KindChecklist:
		return "checklist"
	case KindFeelingPicker:
		return "feeling_picker"
	default:
		return "none"
	}
}

// Affordance describes the input to render. Options is set for buttons,
// checklists and the feeling picker; MaxSelections only for checklists.
type Affordance struct {
	Kind          Kind
	Options       []string
	MaxSelections int
}

// AcceptsText reports whether free text (and the date picker) is allowed.
func (a Affordance) AcceptsText() bool {
	return a.Kind == KindTextInput
}

// Decide picks the affordance from the last message of the transcript.
// Earlier messages are never consulted.
func Decide(messages []chat.Message) Affordance {
	if len(messages) == 0 {
		return Affordance{Kind: KindTextInput}
	}

	last := messages[len(messages)-1]
	if last.Sender != chat.SenderAssistant {
		return Affordance{Kind: KindNone}
	}

	switch last.MessageType {
	case chat.TypeText, chat.TypeSummary, chat.TypeEnd:
		return Affordance{Kind: KindTextInput}
	case chat.TypeSingleSelect:
		options := last.Options()
		if len(options) == 0 {
			return Affordance{Kind: KindNone}
		}
		return Affordance{Kind: KindButtons, Options: cloneStrings(options)}
	case chat.TypeMultiSelect:
		options := last.Options()
		if len(options) == 0 {
			return Affordance{Kind: KindNone}
		}
		limit := len(options)
		if capped := last.StructuredData.MaxSelections; capped > 0 && capped < limit {
			limit = capped
		}
		return Affordance{Kind: KindChecklist, Options: cloneStrings(options), MaxSelections: limit}
	case chat.TypeFeelingSelect:
		return Affordance{Kind: KindFeelingPicker, Options: cloneStrings(Feelings)}
	default:
		return Affordance{Kind: KindNone}
	}
}

func cloneStrings(in []string) []string {
	return append([]string(nil), in...)
}
