package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/oncolife/chatbot/internal/model/chat"
)

const (
	severityPrefix   = "How severe is your "
	otherQuestion    = "Please describe the other symptom you are having."
	feelingQuestion  = "Overall, how are you feeling today?"
	scriptedName     = "scripted"
	otherSymptomName = "other"
)

var SeverityOptions = []string{"Mild", "Moderate", "Severe"}

// ScriptedGenerator asks a fixed severity question per symptom, then the
// overall feeling, then finishes. It needs no model and keeps no state:
// progress is read back from the transcript.
type ScriptedGenerator struct{}

func (ScriptedGenerator) Name() string { return scriptedName }

func (ScriptedGenerator) Next(_ context.Context, turn Turn) (Reply, error) {
	asked := make(map[string]bool)
	for _, m := range turn.Transcript {
		if m.Sender == chat.SenderAssistant {
			asked[m.Content] = true
		}
	}

	for _, symptom := range turn.Chat.Symptoms {
		if strings.EqualFold(symptom, otherSymptomName) {
			if !asked[otherQuestion] {
				return Reply{Type: chat.TypeText, Content: otherQuestion}, nil
			}
			continue
		}
		question := severityQuestion(symptom)
		if !asked[question] {
			return Reply{
				Type:    chat.TypeSingleSelect,
				Content: question,
				Options: append([]string(nil), SeverityOptions...),
			}, nil
		}
	}

	if turn.Chat.OverallFeeling == "" && !asked[feelingQuestion] {
		return Reply{Type: chat.TypeFeelingSelect, Content: feelingQuestion}, nil
	}

	return Reply{Done: true, Summary: scriptedSummary(turn)}, nil
}

func severityQuestion(symptom string) string {
	return fmt.Sprintf("%s%s today?", severityPrefix, strings.ToLower(symptom))
}

// scriptedSummary pairs each question with the user answer that follows it.
func scriptedSummary(turn Turn) string {
	answers := make(map[string]string)
	for i, m := range turn.Transcript {
		if m.Sender != chat.SenderAssistant || i+1 >= len(turn.Transcript) {
			continue
		}
		if next := turn.Transcript[i+1]; next.Sender == chat.SenderUser {
			answers[m.Content] = next.Content
		}
	}

	var b strings.Builder
	if turn.Chat.ChemoAnswer != "" {
		fmt.Fprintf(&b, "- Chemotherapy today: %s\n", turn.Chat.ChemoAnswer)
	}
	if len(turn.Chat.Symptoms) == 0 {
		b.WriteString("- No symptoms reported\n")
	}
	for _, symptom := range turn.Chat.Symptoms {
		if strings.EqualFold(symptom, otherSymptomName) {
			if detail := answers[otherQuestion]; detail != "" {
				fmt.Fprintf(&b, "- Other: %s\n", detail)
			}
			continue
		}
		severity := answers[severityQuestion(symptom)]
		if severity == "" {
			severity = "not rated"
		}
		fmt.Fprintf(&b, "- %s: %s\n", symptom, severity)
	}
	if turn.Chat.OverallFeeling != "" {
		fmt.Fprintf(&b, "- Overall feeling: %s\n", turn.Chat.OverallFeeling)
	}
	return strings.TrimRight(b.String(), "\n")
}
