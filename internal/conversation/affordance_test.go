package conversation

import (
	"reflect"
	"testing"

	"github.com/oncolife/chatbot/internal/model/chat"
)

func assistant(t chat.MessageType, content string, data *chat.StructuredData) chat.Message {
	return chat.Message{Sender: chat.SenderAssistant, MessageType: t, Content: content, StructuredData: data}
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name     string
		messages []chat.Message
		want     Affordance
	}{
		{name: "empty transcript", want: Affordance{Kind: KindTextInput}},
		{
			name:     "last from user",
			messages: []chat.Message{{Sender: chat.SenderUser, MessageType: chat.TypeText, Content: "hi"}},
			want:     Affordance{Kind: KindNone},
		},
		{name: "assistant text", messages: []chat.Message{assistant(chat.TypeText, "Hi", nil)}, want: Affordance{Kind: KindTextInput}},
		{name: "summary", messages: []chat.Message{assistant(chat.TypeSummary, "Done", nil)}, want: Affordance{Kind: KindTextInput}},
		{name: "end", messages: []chat.Message{assistant(chat.TypeEnd, "Bye", nil)}, want: Affordance{Kind: KindTextInput}},
		{
			name:     "single select",
			messages: []chat.Message{assistant(chat.TypeSingleSelect, "How was it?", &chat.StructuredData{Options: []string{"Good", "Bad"}})},
			want:     Affordance{Kind: KindButtons, Options: []string{"Good", "Bad"}},
		},
		{
			name:     "single select without options",
			messages: []chat.Message{assistant(chat.TypeSingleSelect, "How was it?", nil)},
			want:     Affordance{Kind: KindNone},
		},
		{
			name:     "multi select capped",
			messages: []chat.Message{assistant(chat.TypeMultiSelect, "Symptoms?", &chat.StructuredData{Options: []string{"Nausea", "Fatigue", "Rash"}, MaxSelections: 2})},
			want:     Affordance{Kind: KindChecklist, Options: []string{"Nausea", "Fatigue", "Rash"}, MaxSelections: 2},
		},
		{
			name:     "multi select defaults to option count",
			messages: []chat.Message{assistant(chat.TypeMultiSelect, "Symptoms?", &chat.StructuredData{Options: []string{"Nausea", "Fatigue"}})},
			want:     Affordance{Kind: KindChecklist, Options: []string{"Nausea", "Fatigue"}, MaxSelections: 2},
		},
		{
			name:     "feeling select",
			messages: []chat.Message{assistant(chat.TypeFeelingSelect, "How do you feel?", nil)},
			want:     Affordance{Kind: KindFeelingPicker, Options: Feelings},
		},
		{name: "button prompt has no affordance", messages: []chat.Message{assistant(chat.TypeButtonPrompt, "More?", nil)}, want: Affordance{Kind: KindNone}},
		{
			name: "only the last message counts",
			messages: []chat.Message{
				assistant(chat.TypeSingleSelect, "Q", &chat.StructuredData{Options: []string{"Yes"}}),
				{Sender: chat.SenderUser, MessageType: chat.TypeButtonResponse, Content: "Yes"},
				assistant(chat.TypeText, "Thanks", nil),
			},
			want: Affordance{Kind: KindTextInput},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.messages)
			if got.Kind != tc.want.Kind || got.MaxSelections != tc.want.MaxSelections {
				t.Fatalf("Decide = %+v, want %+v", got, tc.want)
			}
			if len(tc.want.Options) > 0 && !reflect.DeepEqual(got.Options, tc.want.Options) {
				t.Fatalf("options = %v, want %v", got.Options, tc.want.Options)
			}
		})
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	messages := []chat.Message{assistant(chat.TypeMultiSelect, "Symptoms?", &chat.StructuredData{Options: []string{"Nausea", "Fatigue"}})}
	first := Decide(messages)
	second := Decide(messages)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Decide not idempotent: %+v vs %+v", first, second)
	}
}

func TestDecideDoesNotAliasOptions(t *testing.T) {
	data := &chat.StructuredData{Options: []string{"Good", "Bad"}}
	got := Decide([]chat.Message{assistant(chat.TypeSingleSelect, "Q", data)})
	got.Options[0] = "changed"
	if data.Options[0] != "Good" {
		t.Fatal("affordance options alias the message")
	}
}
