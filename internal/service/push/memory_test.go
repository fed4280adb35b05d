package push

import (
	"context"
	"testing"

	"github.com/oncolife/chatbot/internal/model/chat"
)

func TestMemoryHubRoutesByChat(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	a, cancelA, _ := hub.Subscribe("chat-a")
	defer cancelA()
	b, cancelB, _ := hub.Subscribe("chat-b")
	defer cancelB()

	env := chat.PushEnvelope{Type: chat.PushAssistantMessage, Content: "hello"}
	if err := hub.Publish(ctx, "chat-a", env); err != nil {
		t.Fatalf("Publish err: %v", err)
	}

	select {
	case got := <-a:
		if got.Content != "hello" {
			t.Fatalf("unexpected envelope %+v", got)
		}
	default:
		t.Fatalf("expected envelope for chat-a")
	}
	select {
	case got := <-b:
		t.Fatalf("chat-b should not receive %+v", got)
	default:
	}
}

func TestMemoryHubDropsWhenFull(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, _ := hub.Subscribe("chat-a")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		_ = hub.Publish(context.Background(), "chat-a", chat.PushEnvelope{Type: chat.PushSystemMessage})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected %d buffered envelopes, got %d", subscriberBuffer, len(ch))
	}
}

func TestMemoryHubCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, _ := hub.Subscribe("chat-a")
	if hub.Subscribers("chat-a") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.Subscribers("chat-a") != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
	if err := hub.Publish(context.Background(), "chat-a", chat.PushEnvelope{Type: chat.PushSystemMessage}); err != nil {
		t.Fatalf("Publish after cancel err: %v", err)
	}
}

func TestMemoryHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, _ := hub.Subscribe("chat-a")

	if err := hub.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	cancel()
}
