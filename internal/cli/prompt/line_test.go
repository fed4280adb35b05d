package prompt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/oncolife/chatbot/internal/conversation"
	"github.com/oncolife/chatbot/internal/model/chat"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type stubSessions struct{ session chat.ChatSession }

func (s stubSessions) LoadTodaySession(context.Context) (chat.ChatSession, error) {
	return s.session, nil
}

func (s stubSessions) StartNewSession(context.Context) (chat.ChatSession, error) {
	return s.session, nil
}

type stubSender struct{ sent []chat.Envelope }

func (s *stubSender) SendMessage(_ context.Context, env chat.Envelope, _ string) (chat.SendResult, error) {
	s.sent = append(s.sent, env)
	return chat.SendResult{Reply: "Thanks, noted."}, nil
}

// scriptedAsker answers prompts in order and interrupts when it runs out.
type scriptedAsker struct {
	answers []interface{}
	prompts []survey.Prompt
}

func (a *scriptedAsker) ask(p survey.Prompt, response interface{}, _ ...survey.AskOpt) error {
	a.prompts = append(a.prompts, p)
	if len(a.answers) == 0 {
		return terminal.InterruptErr
	}
	answer := a.answers[0]
	a.answers = a.answers[1:]

	switch r := response.(type) {
	case *string:
		*r = answer.(string)
	case *int:
		*r = answer.(int)
	case *[]string:
		*r = answer.([]string)
	}
	return nil
}

func runScripted(t *testing.T, first chat.Message, answers ...interface{}) (*stubSender, *scriptedAsker) {
	t.Helper()
	first.ID = 1
	first.ChatUUID = "chat-1"
	first.Sender = chat.SenderAssistant

	sender := &stubSender{}
	s := NewSession()
	asker := &scriptedAsker{answers: answers}
	s.ask = asker.ask
	s.now = func() time.Time { return fixedNow }

	ctrl := conversation.NewController(conversation.Options{
		Sessions: stubSessions{session: chat.ChatSession{ChatUUID: "chat-1", Messages: []chat.Message{first}}},
		Sender:   sender,
		OnChange: s.Notify,
	})
	defer ctrl.Close()

	if err := s.Run(context.Background(), ctrl, false); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	return sender, asker
}

func TestLineModeChecklistThenDate(t *testing.T) {
	sender, asker := runScripted(t, chat.Message{
		MessageType:    chat.TypeMultiSelect,
		Content:        "Select your symptoms",
		StructuredData: &chat.StructuredData{Options: []string{"Nausea", "Fever"}},
	}, []string{"Fever"}, "/date", "2026-10-18", "/quit")

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sender.sent))
	}
	if got := sender.sent[0]; got.MessageType != chat.TypeMultiSelectResponse || got.Content != "Fever" {
		t.Fatalf("unexpected checklist envelope %+v", got)
	}
	if got := sender.sent[1]; got.MessageType != chat.TypeText || got.Content != "2026-10-18" {
		t.Fatalf("unexpected date envelope %+v", got)
	}
	if _, ok := asker.prompts[0].(*survey.MultiSelect); !ok {
		t.Fatalf("expected a multi-select prompt first, got %T", asker.prompts[0])
	}
}

func TestLineModeButtonsAndFeeling(t *testing.T) {
	sender, _ := runScripted(t, chat.Message{
		MessageType:    chat.TypeSingleSelect,
		Content:        "Did you have chemotherapy today?",
		StructuredData: &chat.StructuredData{Options: []string{"Yes", "No"}},
	}, "Yes", "  ", "I feel tired")

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d: %+v", len(sender.sent), sender.sent)
	}
	if got := sender.sent[0]; got.MessageType != chat.TypeButtonResponse || got.Content != "Yes" {
		t.Fatalf("unexpected button envelope %+v", got)
	}
	if got := sender.sent[1]; got.Content != "I feel tired" {
		t.Fatalf("unexpected text envelope %+v", got)
	}
}

func TestLineModeFeelingPicker(t *testing.T) {
	sender, _ := runScripted(t, chat.Message{
		MessageType: chat.TypeFeelingSelect,
		Content:     "Overall, how are you feeling today?",
	}, 2)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
	if got := sender.sent[0]; got.MessageType != chat.TypeFeelingResponse || got.Content != "Neutral" {
		t.Fatalf("unexpected feeling envelope %+v", got)
	}
}

// flakySessions fails its first loads, then serves session.
type flakySessions struct {
	session  chat.ChatSession
	failures int
	loads    int
	created  int
}

func (f *flakySessions) LoadTodaySession(context.Context) (chat.ChatSession, error) {
	f.loads++
	if f.loads <= f.failures {
		return chat.ChatSession{}, errors.New("connection refused")
	}
	return f.session, nil
}

func (f *flakySessions) StartNewSession(context.Context) (chat.ChatSession, error) {
	f.created++
	return f.session, nil
}

func runFlaky(t *testing.T, sessions *flakySessions, answers ...interface{}) (*stubSender, *scriptedAsker) {
	t.Helper()
	sender := &stubSender{}
	s := NewSession()
	asker := &scriptedAsker{answers: answers}
	s.ask = asker.ask
	s.now = func() time.Time { return fixedNow }

	ctrl := conversation.NewController(conversation.Options{
		Sessions: sessions,
		Sender:   sender,
		OnChange: s.Notify,
	})
	defer ctrl.Close()

	if err := s.Run(context.Background(), ctrl, false); err != nil {
		t.Fatalf("Run should not fail on a load error, got %v", err)
	}
	return sender, asker
}

func TestLineModeRetriesFailedLoad(t *testing.T) {
	sessions := &flakySessions{session: chat.ChatSession{ChatUUID: "chat-1"}, failures: 1}
	sender, asker := runFlaky(t, sessions, choiceRetry, "Hello", "/quit")

	if sessions.loads != 2 {
		t.Fatalf("expected a retried load, got %d loads", sessions.loads)
	}
	if _, ok := asker.prompts[0].(*survey.Select); !ok {
		t.Fatalf("expected the recovery prompt first, got %T", asker.prompts[0])
	}
	if len(sender.sent) != 1 || sender.sent[0].Content != "Hello" {
		t.Fatalf("chat should continue after the retry, got %+v", sender.sent)
	}
}

func TestLineModeNewSessionAfterFailedLoad(t *testing.T) {
	sessions := &flakySessions{session: chat.ChatSession{ChatUUID: "chat-1"}, failures: 5}
	sender, _ := runFlaky(t, sessions, choiceNew, "Hello", "/quit")

	if sessions.loads != 1 || sessions.created != 1 {
		t.Fatalf("expected one failed load then a new session, got %d loads %d created", sessions.loads, sessions.created)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
}

func TestLineModeQuitAfterFailedLoad(t *testing.T) {
	sessions := &flakySessions{failures: 5}
	sender, _ := runFlaky(t, sessions, choiceQuit)

	if sessions.loads != 1 || len(sender.sent) != 0 {
		t.Fatalf("quit should end the run, got %d loads %d sends", sessions.loads, len(sender.sent))
	}
}

func TestParseDate(t *testing.T) {
	day, err := ParseDate(" 2026-10-19 ", fixedNow)
	if err != nil || day.Day() != 19 {
		t.Fatalf("expected today to parse, got %v %v", day, err)
	}
	if _, err := ParseDate("2026-10-20", fixedNow); err == nil {
		t.Fatalf("expected future date to be rejected")
	}
	if _, err := ParseDate("10/19/2026", fixedNow); err == nil {
		t.Fatalf("expected bad format to be rejected")
	}
}
