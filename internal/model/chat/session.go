package chat

import "time"

// ConversationState is the server-side phase of a chat.
type ConversationState string

const (
	StateActive               ConversationState = "ACTIVE"
	StateChemoCheckSent       ConversationState = "chemo_check_sent"
	StateSymptomSelectionSent ConversationState = "symptom_selection_sent"
	StateFollowupQuestions    ConversationState = "followup_questions"
	StateCompleted            ConversationState = "completed"
	StateEmergency            ConversationState = "emergency"
)

// Finished reports whether the chat accepts no further answers.
func (s ConversationState) Finished() bool {
	return s == StateCompleted || s == StateEmergency
}

// ChatSession is what session bootstrap returns to the client.
type ChatSession struct {
	ChatUUID          string            `json:"chat_uuid"`
	ConversationState ConversationState `json:"conversation_state"`
	Messages          []Message         `json:"messages"`
	IsNewSession      bool              `json:"is_new_session"`
}

// Chat is the server-side record of one conversation.
type Chat struct {
	ChatUUID       string            `json:"chat_uuid"`
	PatientID      string            `json:"patient_id"`
	Timezone       string            `json:"timezone"`
	State          ConversationState `json:"conversation_state"`
	ChemoAnswer    string            `json:"chemo_answer,omitempty"`
	Symptoms       []string          `json:"symptoms,omitempty"`
	OverallFeeling string            `json:"overall_feeling,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy.
func (c Chat) Clone() Chat {
	c.Symptoms = append([]string(nil), c.Symptoms...)
	return c
}
