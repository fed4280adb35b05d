package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/pkg/metrics"
)

var (
	ErrPatientRequired = errors.New("patient id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("message content is required")
)

// Seed prepares a freshly created chat: its initial state and opening
// messages.
type Seed func(chatUUID string) (chat.ConversationState, []chat.Message)

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultTimezone sets the zone used when a request names none or an
// unknown one.
func WithDefaultTimezone(name string) Option {
	return func(s *Service) {
		if loc, err := time.LoadLocation(name); err == nil {
			s.defaultLoc = loc
		}
	}
}

// Service encapsulates conversation state management.
type Service struct {
	mu         sync.RWMutex
	chats      map[string]chat.Chat
	messages   map[string][]chat.Message
	byPatient  map[string][]string
	seed       Seed
	now        func() time.Time
	defaultLoc *time.Location
}

// NewService bootstraps the in-memory chat store. seed may be nil.
func NewService(seed Seed, opts ...Option) *Service {
	s := &Service{
		chats:      make(map[string]chat.Chat),
		messages:   make(map[string][]chat.Message),
		byPatient:  make(map[string][]string),
		seed:       seed,
		now:        time.Now,
		defaultLoc: mustLoad("America/Los_Angeles"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TodaySession returns the patient's most recent chat started today in
// timezone, creating one when there is none.
func (s *Service) TodaySession(_ context.Context, patientID, timezone string) (chat.ChatSession, error) {
	if patientID == "" {
		return chat.ChatSession{}, ErrPatientRequired
	}
	loc := s.location(timezone)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(loc)
	ids := s.byPatient[patientID]
	for i := len(ids) - 1; i >= 0; i-- {
		record := s.chats[ids[i]]
		if sameDay(record.CreatedAt.In(loc), now) {
			return s.sessionLocked(record, false), nil
		}
	}

	record := s.createLocked(patientID, loc)
	metrics.SessionsCreated.WithLabelValues("today").Inc()
	return s.sessionLocked(record, true), nil
}

// NewSession always creates a chat.
func (s *Service) NewSession(_ context.Context, patientID, timezone string) (chat.ChatSession, error) {
	if patientID == "" {
		return chat.ChatSession{}, ErrPatientRequired
	}
	loc := s.location(timezone)

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.createLocked(patientID, loc)
	metrics.SessionsCreated.WithLabelValues("new").Inc()
	return s.sessionLocked(record, true), nil
}

func (s *Service) createLocked(patientID string, loc *time.Location) chat.Chat {
	now := s.now().UTC()
	record := chat.Chat{
		ChatUUID:  uuid.NewString(),
		PatientID: patientID,
		Timezone:  loc.String(),
		State:     chat.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var opening []chat.Message
	if s.seed != nil {
		record.State, opening = s.seed(record.ChatUUID)
	}

	s.chats[record.ChatUUID] = record
	s.messages[record.ChatUUID] = make([]chat.Message, 0, 16)
	s.byPatient[patientID] = append(s.byPatient[patientID], record.ChatUUID)
	for _, msg := range opening {
		msg.ChatUUID = record.ChatUUID
		s.appendLocked(msg)
	}
	return record
}

func (s *Service) sessionLocked(record chat.Chat, created bool) chat.ChatSession {
	return chat.ChatSession{
		ChatUUID:          record.ChatUUID,
		ConversationState: record.State,
		Messages:          append([]chat.Message{}, s.messages[record.ChatUUID]...),
		IsNewSession:      created,
	}
}

// SaveMessage appends a message to the chat history and returns it with
// its id and timestamp filled in.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	if message.ChatUUID == "" {
		return chat.Message{}, ErrSessionNotFound
	}
	if message.Content == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[message.ChatUUID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	return s.appendLocked(message), nil
}

func (s *Service) appendLocked(message chat.Message) chat.Message {
	history := s.messages[message.ChatUUID]
	message.ID = int64(len(history) + 1)
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now().UTC()
	}
	if message.MessageType == "" {
		message.MessageType = chat.TypeText
	}
	s.messages[message.ChatUUID] = append(history, message)
	metrics.RecordMessage(string(message.Sender), string(message.MessageType))
	return message
}

// GetChat retrieves a chat record by identifier.
func (s *Service) GetChat(_ context.Context, chatUUID string) (chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.chats[chatUUID]
	if !ok {
		return chat.Chat{}, ErrSessionNotFound
	}
	return record.Clone(), nil
}

// UpdateChat applies fn to the stored record under the write lock.
func (s *Service) UpdateChat(_ context.Context, chatUUID string, fn func(*chat.Chat)) (chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.chats[chatUUID]
	if !ok {
		return chat.Chat{}, ErrSessionNotFound
	}
	record = record.Clone()
	fn(&record)
	record.ChatUUID = chatUUID
	record.UpdatedAt = s.now().UTC()
	s.chats[chatUUID] = record
	return record.Clone(), nil
}

// LoadTranscript returns stored messages for the provided chat.
func (s *Service) LoadTranscript(_ context.Context, chatUUID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[chatUUID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// DeleteChat removes a chat owned by patientID together with its history.
func (s *Service) DeleteChat(_ context.Context, chatUUID, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.chats[chatUUID]
	if !ok || record.PatientID != patientID {
		return ErrSessionNotFound
	}

	delete(s.chats, chatUUID)
	delete(s.messages, chatUUID)
	ids := s.byPatient[patientID]
	for i, id := range ids {
		if id == chatUUID {
			s.byPatient[patientID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Service) location(name string) *time.Location {
	if name == "" {
		return s.defaultLoc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return s.defaultLoc
	}
	return loc
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
