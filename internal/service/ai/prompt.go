package ai

import (
	"fmt"
	"strings"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/internal/service/triage"
)

const basePrompt = `You are a warm, concise oncology triage nurse running a daily symptom check-in
with a patient who is receiving chemotherapy. Ask one question at a time about the
symptoms the patient reported: onset, severity, frequency, what helps, and any
medication taken. Never diagnose. If anything suggests an emergency (trouble
breathing, chest pain, heavy bleeding, fever of 100.4F or higher with chills,
confusion, fainting) stop and tell the patient to seek emergency care.

Always answer with a single JSON object and nothing else:
{
  "response_type": "text" | "single_select" | "multi_select" | "feeling_select" | "summary" | "end",
  "content": "the message shown to the patient",
  "options": ["only for single_select and multi_select"],
  "new_symptoms": ["symptoms mentioned for the first time"],
  "summary_data": {
    "bulleted_summary": ["only for summary and end"],
    "overall_feeling": "the patient's overall feeling, if known"
  }
}
Use "feeling_select" once, near the end, to ask how the patient feels overall.
Use "summary" when every reported symptom has been covered, and "end" for an emergency.`

// SystemPrompt returns the triage instructions followed by what is known
// about the chat so far.
func SystemPrompt(record chat.Chat) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nCheck-in so far:")
	if record.ChemoAnswer != "" {
		fmt.Fprintf(&b, "\n- Chemotherapy today: %s", record.ChemoAnswer)
	}
	if len(record.Symptoms) > 0 {
		fmt.Fprintf(&b, "\n- Reported symptoms: %s", strings.Join(record.Symptoms, ", "))
	} else {
		b.WriteString("\n- Reported symptoms: none yet")
	}
	if record.OverallFeeling != "" {
		fmt.Fprintf(&b, "\n- Overall feeling: %s", record.OverallFeeling)
	}
	return b.String()
}

// splitTurn separates the newest user message from the earlier history and
// keeps at most limit history messages.
func splitTurn(turn triage.Turn, limit int) ([]chat.Message, string) {
	messages := turn.Transcript
	query := turn.Input.Content
	if n := len(messages); n > 0 && messages[n-1].Sender == chat.SenderUser {
		query = messages[n-1].Content
		messages = messages[:n-1]
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, query
}
