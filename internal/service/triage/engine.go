// Package triage drives the daily symptom check-in: the opening chemo
// question, symptom selection, follow-up questions and the summary.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/analysis/urgency"
	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/pkg/logger"
	"github.com/oncolife/chatbot/pkg/metrics"
)

const (
	OpeningQuestion = "Did you get chemotherapy today?"
	SymptomQuestion = "What symptoms are you experiencing today? Select all that apply."

	EndedReply           = "This conversation has ended. Please start a new one if you need assistance."
	FallbackReply        = "I'm not sure how to respond to that. Can you try again?"
	GeneratorFailedReply = "I'm not sure what to ask next. Can you tell me more?"
	EmergencyReply       = "What you describe may need urgent medical attention. Please call 911 or go to the nearest emergency room now, then let your care team know."

	anythingElsePhrase = "anything else you would like to discuss"
)

var (
	ChemoOptions   = []string{"Yes", "No", "I had it recently, but didn't record it"}
	SymptomOptions = []string{
		"Fever", "Nausea", "Vomiting", "Diarrhea", "Constipation", "Fatigue",
		"Headache", "Mouth Sores", "Rash", "Shortness of Breath", "Other",
	}
	yesNo = []string{"Yes", "No"}
)

// ErrEmptyInput is returned for a user message without content.
var ErrEmptyInput = errors.New("message content is required")

// Store is the part of the chat store the engine works on.
type Store interface {
	GetChat(ctx context.Context, chatUUID string) (chat.Chat, error)
	UpdateChat(ctx context.Context, chatUUID string, fn func(*chat.Chat)) (chat.Chat, error)
	SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error)
	LoadTranscript(ctx context.Context, chatUUID string) ([]chat.Message, error)
}

// Turn is what a Generator sees when asked for the next question.
type Turn struct {
	Chat       chat.Chat
	Transcript []chat.Message
	Input      chat.Message
}

// Reply is a generated assistant turn.
type Reply struct {
	Type          chat.MessageType
	Content       string
	Options       []string
	MaxSelections int
	NewSymptoms   []string
	Done          bool
	Summary       string
}

// Generator produces follow-up questions.
type Generator interface {
	Name() string
	Next(ctx context.Context, turn Turn) (Reply, error)
}

// Result is the outcome of one processed user message.
type Result struct {
	User      chat.Message
	Assistant chat.Message
	State     chat.ConversationState
}

// Engine runs the conversation state machine over a Store.
type Engine struct {
	store Store
	gen   Generator
	log   *logger.Logger
	now   func() time.Time
	locks sync.Map
}

// NewEngine builds an engine. A nil generator uses the scripted one.
func NewEngine(store Store, gen Generator, log *logger.Logger) *Engine {
	if gen == nil {
		gen = ScriptedGenerator{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{store: store, gen: gen, log: log.Component("triage"), now: time.Now}
}

// Opening seeds a new chat with the chemo question. It has the shape of
// the chat service Seed.
func Opening(chatUUID string) (chat.ConversationState, []chat.Message) {
	return chat.StateChemoCheckSent, []chat.Message{{
		ChatUUID:       chatUUID,
		Sender:         chat.SenderAssistant,
		MessageType:    chat.TypeSingleSelect,
		Content:        OpeningQuestion,
		StructuredData: &chat.StructuredData{Options: append([]string(nil), ChemoOptions...)},
	}}
}

// Process stores the user message, advances the state machine and
// stores the assistant reply.
func (e *Engine) Process(ctx context.Context, chatUUID string, env chat.Envelope) (Result, error) {
	content := strings.TrimSpace(env.Content)
	if content == "" {
		return Result{}, ErrEmptyInput
	}

	unlock := e.lock(chatUUID)
	defer unlock()

	record, err := e.store.GetChat(ctx, chatUUID)
	if err != nil {
		return Result{}, err
	}

	msgType := chat.NormalizeType(string(env.MessageType))
	if msgType == "" {
		msgType = chat.TypeText
	}
	userMsg := chat.Message{
		ChatUUID:    chatUUID,
		Sender:      chat.SenderUser,
		MessageType: msgType,
		Content:     content,
	}
	if msgType == chat.TypeMultiSelectResponse {
		userMsg.StructuredData = &chat.StructuredData{SelectedOptions: splitSelections(content)}
	}
	userMsg, err = e.store.SaveMessage(ctx, userMsg)
	if err != nil {
		return Result{}, err
	}

	reply, next := e.advance(ctx, &record, userMsg)

	from := record.State
	record, err = e.store.UpdateChat(ctx, chatUUID, func(c *chat.Chat) {
		c.State = next
		c.ChemoAnswer = record.ChemoAnswer
		c.Symptoms = record.Symptoms
		c.OverallFeeling = record.OverallFeeling
		c.Summary = record.Summary
	})
	if err != nil {
		return Result{}, err
	}
	metrics.RecordTransition(string(from), string(next))

	assistantMsg := chat.Message{
		ChatUUID:    chatUUID,
		Sender:      chat.SenderAssistant,
		MessageType: reply.Type,
		Content:     reply.Content,
	}
	if len(reply.Options) > 0 {
		assistantMsg.StructuredData = &chat.StructuredData{
			Options:       reply.Options,
			MaxSelections: reply.MaxSelections,
		}
	}
	assistantMsg, err = e.store.SaveMessage(ctx, assistantMsg)
	if err != nil {
		return Result{}, err
	}

	e.log.Info("message processed",
		zap.String("chat_uuid", chatUUID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("reply_type", string(reply.Type)),
	)
	return Result{User: userMsg, Assistant: assistantMsg, State: record.State}, nil
}

// advance mutates record and returns the reply and the next state.
func (e *Engine) advance(ctx context.Context, record *chat.Chat, input chat.Message) (Reply, chat.ConversationState) {
	state := record.State
	if state.Finished() {
		return textReply(EndedReply), state
	}

	if assessment := urgency.Analyze(input.Content); assessment.Level == urgency.Urgent {
		e.log.Warn("emergency language detected",
			zap.String("chat_uuid", record.ChatUUID),
			zap.Int("score", assessment.Score),
			zap.Any("categories", assessment.Categories),
		)
		record.Summary = fmt.Sprintf("Emergency escalation: %s", input.Content)
		return Reply{Type: chat.TypeEnd, Content: EmergencyReply}, chat.StateEmergency
	}

	switch state {
	case chat.StateChemoCheckSent, chat.StateActive:
		record.ChemoAnswer = input.Content
		return Reply{
			Type:    chat.TypeMultiSelect,
			Content: SymptomQuestion,
			Options: append([]string(nil), SymptomOptions...),
		}, chat.StateSymptomSelectionSent

	case chat.StateSymptomSelectionSent:
		record.Symptoms = mergeSymptoms(record.Symptoms, splitSelections(input.Content))
		return e.followUp(ctx, record, input, chat.StateFollowupQuestions)

	case chat.StateFollowupQuestions:
		return e.followUp(ctx, record, input, chat.StateFollowupQuestions)

	default:
		return textReply(FallbackReply), state
	}
}

func (e *Engine) followUp(ctx context.Context, record *chat.Chat, input chat.Message, state chat.ConversationState) (Reply, chat.ConversationState) {
	transcript, err := e.store.LoadTranscript(ctx, record.ChatUUID)
	if err != nil {
		e.log.Warn("load transcript failed", zap.String("chat_uuid", record.ChatUUID), zap.Error(err))
		return textReply(GeneratorFailedReply), state
	}

	if input.MessageType == chat.TypeFeelingResponse || answersFeelingPrompt(transcript) {
		record.OverallFeeling = input.Content
	}

	started := e.now()
	reply, err := e.gen.Next(ctx, Turn{Chat: record.Clone(), Transcript: transcript, Input: input})
	metrics.RecordReply(e.gen.Name(), started, err)
	if err != nil {
		e.log.Warn("follow-up generation failed",
			zap.String("chat_uuid", record.ChatUUID),
			zap.String("generator", e.gen.Name()),
			zap.Error(err),
		)
		return textReply(GeneratorFailedReply), state
	}

	record.Symptoms = mergeSymptoms(record.Symptoms, reply.NewSymptoms)

	if reply.Type == chat.TypeEnd {
		if summary := strings.TrimSpace(reply.Summary); summary != "" {
			record.Summary = summary
		}
		content := strings.TrimSpace(reply.Content)
		if content == "" {
			content = EmergencyReply
		}
		return Reply{Type: chat.TypeEnd, Content: content}, chat.StateEmergency
	}

	if reply.Done {
		summary := strings.TrimSpace(reply.Summary)
		if summary == "" {
			summary = defaultSummary(*record)
		}
		record.Summary = summary
		return Reply{
			Type:    chat.TypeSummary,
			Content: "Thank you for checking in. Here is a summary of today:\n" + summary,
		}, chat.StateCompleted
	}

	return sanitize(reply), state
}

// sanitize keeps generated replies renderable: selection prompts need
// options, and "anything else" questions become a Yes/No choice.
func sanitize(reply Reply) Reply {
	reply.Content = strings.TrimSpace(reply.Content)
	if reply.Content == "" {
		return textReply(GeneratorFailedReply)
	}
	if strings.Contains(strings.ToLower(reply.Content), anythingElsePhrase) {
		return Reply{Type: chat.TypeSingleSelect, Content: reply.Content, Options: append([]string(nil), yesNo...)}
	}

	switch reply.Type {
	case chat.TypeSingleSelect, chat.TypeMultiSelect:
		if len(reply.Options) == 0 {
			reply.Type = chat.TypeText
		}
	case chat.TypeFeelingSelect, chat.TypeText:
	case chat.TypeButtonPrompt:
		reply.Type = chat.TypeSingleSelect
		if len(reply.Options) == 0 {
			reply.Options = append([]string(nil), yesNo...)
		}
	default:
		reply.Type = chat.TypeText
	}
	if reply.Type == chat.TypeText || reply.Type == chat.TypeFeelingSelect {
		reply.Options = nil
		reply.MaxSelections = 0
	}
	return reply
}

// answersFeelingPrompt reports whether the newest message replies to a
// feeling_select prompt. Clients that render prompts as text send the
// feeling as plain text.
func answersFeelingPrompt(transcript []chat.Message) bool {
	n := len(transcript)
	if n < 2 || transcript[n-1].Sender != chat.SenderUser {
		return false
	}
	prev := transcript[n-2]
	return prev.Sender == chat.SenderAssistant && prev.MessageType == chat.TypeFeelingSelect
}

func textReply(content string) Reply {
	return Reply{Type: chat.TypeText, Content: content}
}

func (e *Engine) lock(chatUUID string) func() {
	value, _ := e.locks.LoadOrStore(chatUUID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func splitSelections(content string) []string {
	parts := strings.Split(content, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mergeSymptoms(existing, added []string) []string {
	out := append([]string(nil), existing...)
	for _, symptom := range added {
		symptom = strings.TrimSpace(symptom)
		if symptom == "" {
			continue
		}
		duplicate := false
		for _, have := range out {
			if strings.EqualFold(have, symptom) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, symptom)
		}
	}
	return out
}

func defaultSummary(record chat.Chat) string {
	var b strings.Builder
	if record.ChemoAnswer != "" {
		fmt.Fprintf(&b, "- Chemotherapy today: %s\n", record.ChemoAnswer)
	}
	if len(record.Symptoms) == 0 {
		b.WriteString("- No symptoms reported\n")
	} else {
		fmt.Fprintf(&b, "- Symptoms: %s\n", strings.Join(record.Symptoms, ", "))
	}
	if record.OverallFeeling != "" {
		fmt.Fprintf(&b, "- Overall feeling: %s\n", record.OverallFeeling)
	}
	return strings.TrimRight(b.String(), "\n")
}
