package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageTypeAcceptsHyphenatedSpelling(t *testing.T) {
	var msg Message
	payload := []byte(`{"id":3,"sender":"assistant","message_type":"multi-select","content":"Pick","structured_data":{"options":["A","B"],"max_selections":1}}`)
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.MessageType != TypeMultiSelect {
		t.Fatalf("expected %s, got %s", TypeMultiSelect, msg.MessageType)
	}
	if len(msg.Options()) != 2 || msg.StructuredData.MaxSelections != 1 {
		t.Fatalf("unexpected structured data: %+v", msg.StructuredData)
	}
}

func TestSendRequestFlattensEnvelope(t *testing.T) {
	req := SendRequest{Envelope: NewEnvelope(TypeText, "Hello"), ChatUUID: "c1"}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for key, want := range map[string]string{"type": "user_message", "message_type": "text", "content": "Hello", "chat_uuid": "c1"} {
		if decoded[key] != want {
			t.Fatalf("field %s: got %v want %s", key, decoded[key], want)
		}
	}
}

func TestPushEnvelopeMessageDefaultsToText(t *testing.T) {
	now := time.Now()
	msg := PushEnvelope{Type: PushSystemMessage, Content: "Your nurse will call you"}.Message("c1", 7, now)

	if msg.Sender != SenderAssistant || msg.MessageType != TypeText {
		t.Fatalf("unexpected mapping: %+v", msg)
	}
	if msg.ID != 7 || msg.ChatUUID != "c1" || msg.StructuredData != nil {
		t.Fatalf("unexpected mapping: %+v", msg)
	}
}

func TestPushEnvelopeRoundTripsOptions(t *testing.T) {
	src := Message{
		ID:             2,
		ChatUUID:       "c1",
		Sender:         SenderAssistant,
		MessageType:    TypeSingleSelect,
		Content:        "How was it?",
		StructuredData: &StructuredData{Options: []string{"Good", "Bad"}},
	}
	env := PushFromMessage(PushAssistantMessage, src, StateFollowupQuestions)
	got := env.Message("c1", 2, time.Now())

	if got.MessageType != TypeSingleSelect || len(got.Options()) != 2 || got.Options()[1] != "Bad" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if env.ChatState != StateFollowupQuestions {
		t.Fatalf("unexpected state %s", env.ChatState)
	}
}
