package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/config"
	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/internal/service/triage"
	"github.com/oncolife/chatbot/pkg/logger"
)

// OpenAIGenerator asks an OpenAI compatible endpoint for follow-ups.
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	historyLimit int
	log          *logger.Logger
}

// NewOpenAIGenerator creates the generator from cfg.
func NewOpenAIGenerator(cfg config.AIConfig, historyLimit int, log *logger.Logger) (*OpenAIGenerator, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	model := cfg.OpenAIModel
	if model == "" {
		model = "gpt-4o"
	}
	if log == nil {
		log = logger.Nop()
	}

	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		historyLimit: historyLimit,
		log:          log.Component("ai.openai"),
	}, nil
}

// Name identifies the generator in metrics.
func (g *OpenAIGenerator) Name() string { return config.ProviderOpenAI }

// Next requests a JSON object completion and parses it.
func (g *OpenAIGenerator) Next(ctx context.Context, turn triage.Turn) (triage.Reply, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: g.buildMessages(turn),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return triage.Reply{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return triage.Reply{}, errors.New("openai completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	reply, err := ParseReply(content)
	if err != nil {
		g.log.Warn("unparseable model answer",
			zap.String("chat_uuid", turn.Chat.ChatUUID),
			zap.Int("length", len(content)),
			zap.Error(err),
		)
		return triage.Reply{}, err
	}

	g.log.Debug("generated follow-up",
		zap.String("chat_uuid", turn.Chat.ChatUUID),
		zap.String("type", string(reply.Type)),
		zap.Int("tokens_in", resp.Usage.PromptTokens),
		zap.Int("tokens_out", resp.Usage.CompletionTokens),
	)
	return reply, nil
}

func (g *OpenAIGenerator) buildMessages(turn triage.Turn) []openai.ChatCompletionMessage {
	history, query := splitTurn(turn, g.historyLimit)

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt(turn.Chat),
	})
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Sender == chat.SenderAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: query,
	})
}
