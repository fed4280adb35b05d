package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/config"
	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/internal/service/triage"
	"github.com/oncolife/chatbot/pkg/logger"
)

// ArkGenerator asks an eino chat model for the next follow-up question.
type ArkGenerator struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	log          *logger.Logger
}

// NewArkGenerator builds the generator on the Ark model described by cfg.
func NewArkGenerator(ctx context.Context, cfg config.AIConfig, historyLimit int, log *logger.Logger) (*ArkGenerator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewModelGenerator(ctx, chatModel, historyLimit, log)
}

// NewModelGenerator wraps any eino chat model.
func NewModelGenerator(ctx context.Context, chatModel model.ChatModel, historyLimit int, log *logger.Logger) (*ArkGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if log == nil {
		log = logger.Nop()
	}
	return &ArkGenerator{
		chain:        runnable,
		historyLimit: historyLimit,
		log:          log.Component("ai.ark"),
	}, nil
}

// Name identifies the generator in metrics.
func (g *ArkGenerator) Name() string { return config.ProviderArk }

// Next runs the chain and parses the model answer.
func (g *ArkGenerator) Next(ctx context.Context, turn triage.Turn) (triage.Reply, error) {
	response, err := g.chain.Invoke(ctx, g.buildChainInput(turn))
	if err != nil {
		return triage.Reply{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	reply, err := ParseReply(response.Content)
	if err != nil {
		g.log.Warn("unparseable model answer",
			zap.String("chat_uuid", turn.Chat.ChatUUID),
			zap.Int("length", len(response.Content)),
			zap.Error(err),
		)
		return triage.Reply{}, err
	}

	g.log.Debug("generated follow-up",
		zap.String("chat_uuid", turn.Chat.ChatUUID),
		zap.String("type", string(reply.Type)),
	)
	return reply, nil
}

func (g *ArkGenerator) buildChainInput(turn triage.Turn) map[string]any {
	history, query := splitTurn(turn, g.historyLimit)
	return map[string]any{
		"system":  SystemPrompt(turn.Chat),
		"history": buildHistoryMessages(history),
		"query":   query,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
