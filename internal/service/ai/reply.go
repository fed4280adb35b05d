package ai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/internal/service/triage"
)

// ErrNoJSON is returned when a model answer carries no JSON object.
var ErrNoJSON = errors.New("model answer contains no JSON object")

type modelReply struct {
	ResponseType string      `json:"response_type"`
	Content      string      `json:"content"`
	Options      []string    `json:"options"`
	NewSymptoms  []string    `json:"new_symptoms"`
	SummaryData  summaryData `json:"summary_data"`
}

type summaryData struct {
	BulletedSummary any    `json:"bulleted_summary"`
	OverallFeeling  string `json:"overall_feeling"`
}

// ParseReply extracts the JSON object from a model answer. Text around the
// object, such as markdown fences, is ignored.
func ParseReply(text string) (triage.Reply, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return triage.Reply{}, ErrNoJSON
	}

	var raw modelReply
	if err := sonic.UnmarshalString(text[start:end+1], &raw); err != nil {
		return triage.Reply{}, fmt.Errorf("decode model answer: %w", err)
	}

	reply := triage.Reply{
		Type:        chat.NormalizeType(raw.ResponseType),
		Content:     strings.TrimSpace(raw.Content),
		Options:     raw.Options,
		NewSymptoms: raw.NewSymptoms,
	}
	if reply.Type == "" {
		reply.Type = chat.TypeText
	}

	switch reply.Type {
	case chat.TypeSummary:
		reply.Done = true
		reply.Summary = bullets(raw.SummaryData.BulletedSummary)
	case chat.TypeEnd:
		reply.Summary = bullets(raw.SummaryData.BulletedSummary)
	}
	return reply, nil
}

// bullets accepts either a newline separated string or a list.
func bullets(value any) string {
	var lines []string
	switch v := value.(type) {
	case string:
		lines = strings.Split(v, "\n")
	case []any:
		for _, item := range v {
			lines = append(lines, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•*"))
		if line != "" {
			out = append(out, "- "+line)
		}
	}
	return strings.Join(out, "\n")
}
