package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/model/chat"
	"github.com/oncolife/chatbot/pkg/logger"
)

// FailureReply is appended in place of a reply when a send fails.
const FailureReply = "Sorry, I encountered an error. Please try again."

var (
	ErrNoSession     = errors.New("no active chat session")
	ErrVacuous       = errors.New("nothing to send")
	ErrComposing     = errors.New("a reply is still pending")
	ErrAwaitingReply = errors.New("waiting for the assistant to answer")
	ErrClosed        = errors.New("conversation closed")
)

// SessionSource bootstraps chat sessions.
type SessionSource interface {
	LoadTodaySession(ctx context.Context) (chat.ChatSession, error)
	StartNewSession(ctx context.Context) (chat.ChatSession, error)
}

// Sender delivers one envelope and returns the assistant reply.
type Sender interface {
	SendMessage(ctx context.Context, env chat.Envelope, chatUUID string) (chat.SendResult, error)
}

// PushOpener opens the server push channel for a chat. ctx bounds the
// dial only; the channel stays open until the returned Closer is closed.
// lost is called at most once, when the server side ends the channel.
type PushOpener interface {
	Open(ctx context.Context, chatUUID string, deliver func(chat.PushEnvelope), lost func()) (io.Closer, error)
}

// Phase is the session-level state of the controller.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Snapshot is a consistent copy of the controller state for views.
type Snapshot struct {
	Phase      Phase
	Err        error
	ChatUUID   string
	State      chat.ConversationState
	IsNew      bool
	Messages   []chat.Message
	Composing  bool
	Affordance Affordance
}

// Options configures a Controller. Push, Logger, OnChange and Now are
// optional.
type Options struct {
	Sessions SessionSource
	Sender   Sender
	Push     PushOpener
	Logger   *logger.Logger
	// OnChange is invoked, without locks held, after every state change.
	// Views call Snapshot from it.
	OnChange func()
	Now      func() time.Time
}

// Controller owns the transcript of the active chat.
type Controller struct {
	sessions SessionSource
	sender   Sender
	push     PushOpener
	log      *logger.Logger
	onChange func()
	now      func() time.Time

	mu         sync.Mutex
	phase      Phase
	err        error
	session    *chat.ChatSession
	messages   []chat.Message
	composing  bool
	generation uint64
	nextID     int64
	closed     bool

	pushConn io.Closer
	// awaitingPush is set while a deferred reply has not arrived.
	awaitingPush bool
}

// NewController wires a controller to its collaborators.
func NewController(opts Options) *Controller {
	c := &Controller{
		sessions: opts.Sessions,
		sender:   opts.Sender,
		push:     opts.Push,
		log:      opts.Logger,
		onChange: opts.OnChange,
		now:      opts.Now,
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.Component("conversation")
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// LoadSession replaces the transcript with today's session.
func (c *Controller) LoadSession(ctx context.Context) error {
	return c.replaceSession(ctx, "load", c.sessions.LoadTodaySession)
}

// StartNewSession replaces the transcript with a fresh session.
func (c *Controller) StartNewSession(ctx context.Context) error {
	return c.replaceSession(ctx, "new", c.sessions.StartNewSession)
}

func (c *Controller) replaceSession(ctx context.Context, op string, fetch func(context.Context) (chat.ChatSession, error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.generation++
	gen := c.generation
	old := c.pushConn
	c.pushConn = nil
	c.phase = PhaseLoading
	c.err = nil
	c.session = nil
	c.messages = nil
	c.composing = false
	c.awaitingPush = false
	c.mu.Unlock()

	closeQuietly(old)
	c.notify()

	session, err := fetch(ctx)

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.phase = PhaseFailed
		c.err = err
		c.mu.Unlock()
		c.log.Warn("session bootstrap failed", zap.String("op", op), zap.Error(err))
		c.notify()
		return err
	}

	c.messages = append(make([]chat.Message, 0, len(session.Messages)+8), session.Messages...)
	session.Messages = nil
	c.session = &session
	c.phase = PhaseReady
	c.seedIDs()
	count := len(c.messages)
	c.mu.Unlock()

	c.log.Info("session ready",
		zap.String("op", op),
		zap.String("chat_uuid", session.ChatUUID),
		zap.Bool("is_new", session.IsNewSession),
		zap.Int("messages", count),
	)
	c.openPush(ctx, gen, session.ChatUUID)
	c.notify()
	return nil
}

func (c *Controller) openPush(ctx context.Context, gen uint64, chatUUID string) {
	if c.push == nil {
		return
	}

	var dropped atomic.Bool
	conn, err := c.push.Open(ctx, chatUUID, func(env chat.PushEnvelope) {
		c.Deliver(chatUUID, env)
	}, func() {
		dropped.Store(true)
		c.pushLost(gen, chatUUID)
	})
	if err != nil {
		c.log.Warn("push channel unavailable", zap.String("chat_uuid", chatUUID), zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		closeQuietly(conn)
		return
	}
	if !dropped.Load() {
		c.pushConn = conn
	}
	c.mu.Unlock()
}

// pushLost drops the push channel of generation gen. A reply still owed
// over that channel is replaced by FailureReply.
func (c *Controller) pushLost(gen uint64, chatUUID string) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.pushConn = nil
	owed := c.awaitingPush
	if owed {
		c.awaitingPush = false
		c.appendAssistantLocked(FailureReply)
	}
	c.mu.Unlock()

	c.log.Warn("push channel lost", zap.String("chat_uuid", chatUUID), zap.Bool("reply_owed", owed))
	if owed {
		c.notify()
	}
}

// Submit appends the interaction optimistically, sends it and appends
// the reply. Precondition failures return an error and change nothing;
// send failures are absorbed into a fixed assistant message.
func (c *Controller) Submit(ctx context.Context, in Interaction) error {
	c.mu.Lock()
	if err := c.checkSubmitLocked(in); err != nil {
		c.mu.Unlock()
		return err
	}

	chatUUID := c.session.ChatUUID
	gen := c.generation
	msg, env := Encode(in, chatUUID, c.allocIDLocked(), c.now())
	c.messages = append(c.messages, msg)
	c.composing = true
	c.mu.Unlock()
	c.notify()

	defer c.finishRound(gen)

	result, err := c.sender.SendMessage(ctx, env, chatUUID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation {
		return nil
	}

	switch {
	case err != nil:
		c.log.Warn("send failed", zap.String("chat_uuid", chatUUID), zap.Error(err))
		c.appendAssistantLocked(FailureReply)
	case result.Deferred:
		if c.push != nil && c.pushConn == nil {
			c.log.Warn("push channel gone before the reply", zap.String("chat_uuid", chatUUID))
			c.appendAssistantLocked(FailureReply)
			break
		}
		// The reply may already have been delivered.
		c.awaitingPush = c.messages[len(c.messages)-1].Sender == chat.SenderUser
	case strings.TrimSpace(result.Reply) == "":
		c.log.Warn("send returned an empty reply", zap.String("chat_uuid", chatUUID))
		c.appendAssistantLocked(FailureReply)
	default:
		c.appendAssistantLocked(result.Reply)
		if result.State != "" {
			c.session.ConversationState = result.State
		}
	}
	return nil
}

func (c *Controller) checkSubmitLocked(in Interaction) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.session == nil:
		return ErrNoSession
	case in == nil || in.Vacuous():
		return ErrVacuous
	case c.composing:
		return ErrComposing
	}
	if n := len(c.messages); n > 0 && c.messages[n-1].Sender == chat.SenderUser {
		return ErrAwaitingReply
	}
	return nil
}

func (c *Controller) finishRound(gen uint64) {
	c.mu.Lock()
	if gen == c.generation {
		c.composing = false
	}
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.notify()
	}
}

func (c *Controller) appendAssistantLocked(content string) {
	c.messages = append(c.messages, chat.Message{
		ID:          c.allocIDLocked(),
		ChatUUID:    c.session.ChatUUID,
		Sender:      chat.SenderAssistant,
		MessageType: chat.TypeText,
		Content:     content,
		CreatedAt:   c.now(),
	})
}

// Deliver appends a push envelope for chatUUID. The connection notice and
// envelopes for any other chat are dropped. An error envelope is shown as
// FailureReply.
func (c *Controller) Deliver(chatUUID string, env chat.PushEnvelope) {
	if env.Handshake() {
		c.log.Debug("push channel established", zap.String("chat_uuid", chatUUID), zap.String("chat_state", string(env.ChatState)))
		return
	}

	c.mu.Lock()
	if c.closed || c.session == nil || c.session.ChatUUID != chatUUID {
		c.mu.Unlock()
		return
	}
	c.awaitingPush = false
	if env.Type == chat.PushError {
		c.appendAssistantLocked(FailureReply)
		c.mu.Unlock()
		c.log.Warn("push channel reported an error", zap.String("chat_uuid", chatUUID), zap.String("detail", env.Content))
		c.notify()
		return
	}
	c.messages = append(c.messages, env.Message(chatUUID, c.allocIDLocked(), c.now()))
	if env.ChatState != "" {
		c.session.ConversationState = env.ChatState
	}
	c.mu.Unlock()

	c.notify()
}

// Snapshot copies the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Phase:     c.phase,
		Err:       c.err,
		Messages:  append([]chat.Message(nil), c.messages...),
		Composing: c.composing,
	}
	if c.session != nil {
		snap.ChatUUID = c.session.ChatUUID
		snap.State = c.session.ConversationState
		snap.IsNew = c.session.IsNewSession
	}
	if c.session == nil || c.composing || c.closed {
		snap.Affordance = Affordance{Kind: KindNone}
	} else {
		snap.Affordance = Decide(snap.Messages)
	}
	return snap
}

// Close tears the controller down. Completions arriving later are ignored.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.pushConn
	c.pushConn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// seedIDs starts local ids above both the loaded ids and the clock.
func (c *Controller) seedIDs() {
	next := c.now().UnixMilli()
	for _, m := range c.messages {
		if m.ID >= next {
			next = m.ID + 1
		}
	}
	c.nextID = next
}

func (c *Controller) allocIDLocked() int64 {
	id := c.nextID
	c.nextID++
	return id
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
