package client

import (
	"context"
	"fmt"
	"time"

	"github.com/oncolife/chatbot/internal/model/chat"
)

// LocalSessions hands out sessions without a server. It stands in for
// the session endpoints during offline use.
type LocalSessions struct {
	Now func() time.Time
}

// LoadTodaySession returns the fixed default chat.
func (l LocalSessions) LoadTodaySession(context.Context) (chat.ChatSession, error) {
	return chat.ChatSession{
		ChatUUID:          "default-chat",
		ConversationState: chat.StateActive,
		Messages:          []chat.Message{},
		IsNewSession:      false,
	}, nil
}

// StartNewSession returns a chat keyed by the current time.
func (l LocalSessions) StartNewSession(context.Context) (chat.ChatSession, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return chat.ChatSession{
		ChatUUID:          fmt.Sprintf("chat-%d", now().UnixMilli()),
		ConversationState: chat.StateActive,
		Messages:          []chat.Message{},
		IsNewSession:      true,
	}, nil
}
