package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/oncolife/chatbot/internal/model/chat"
)

type fakeSessions struct {
	mu       sync.Mutex
	today    chat.ChatSession
	todayErr error
	created  int
}

func (f *fakeSessions) LoadTodaySession(context.Context) (chat.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.todayErr != nil {
		return chat.ChatSession{}, f.todayErr
	}
	return f.today, nil
}

func (f *fakeSessions) StartNewSession(context.Context) (chat.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return chat.ChatSession{
		ChatUUID:          fmt.Sprintf("chat-%d", f.created),
		ConversationState: chat.StateActive,
		IsNewSession:      true,
	}, nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []chat.Envelope
	uuids  []string
	result chat.SendResult
	err    error
	// release, when set, blocks SendMessage until closed.
	release chan struct{}
	started chan struct{}
	during  func()
}

func (f *fakeSender) SendMessage(_ context.Context, env chat.Envelope, chatUUID string) (chat.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.uuids = append(f.uuids, chatUUID)
	during, release, started := f.during, f.release, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if during != nil {
		during()
	}
	if release != nil {
		<-release
	}
	return f.result, f.err
}

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakePush struct {
	mu      sync.Mutex
	err     error
	conns   []*fakeConn
	deliver map[string]func(chat.PushEnvelope)
	lost    map[string]func()
}

func (f *fakePush) Open(_ context.Context, chatUUID string, deliver func(chat.PushEnvelope), lost func()) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.deliver == nil {
		f.deliver = make(map[string]func(chat.PushEnvelope))
		f.lost = make(map[string]func())
	}
	f.deliver[chatUUID] = deliver
	f.lost[chatUUID] = lost
	conn := &fakeConn{}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakePush) push(chatUUID string, env chat.PushEnvelope) {
	f.mu.Lock()
	deliver := f.deliver[chatUUID]
	f.mu.Unlock()
	deliver(env)
}

// drop ends the channel of chatUUID from the server side.
func (f *fakePush) drop(chatUUID string) {
	f.mu.Lock()
	lost := f.lost[chatUUID]
	f.mu.Unlock()
	lost()
}

func newTestController(t *testing.T, sessions *fakeSessions, sender *fakeSender, push PushOpener) *Controller {
	t.Helper()
	ctrl := NewController(Options{
		Sessions: sessions,
		Sender:   sender,
		Push:     push,
		Now:      func() time.Time { return time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl
}

func TestSubmitTextRoundTrip(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1", ConversationState: chat.StateActive}}
	sender := &fakeSender{result: chat.SendResult{Reply: "Hi there"}}
	ctrl := newTestController(t, sessions, sender, nil)

	var composingDuringSend bool
	sender.during = func() { composingDuringSend = ctrl.Snapshot().Composing }

	if err := ctrl.LoadSession(context.Background()); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got := ctrl.Snapshot().Affordance.Kind; got != KindTextInput {
		t.Fatalf("expected text input on empty transcript, got %s", got)
	}

	if err := ctrl.Submit(context.Background(), Text{Body: "Hello"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !composingDuringSend {
		t.Fatal("composing should be true while the send is in flight")
	}

	snap := ctrl.Snapshot()
	if snap.Composing {
		t.Fatal("composing should be false after the reply")
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap.Messages))
	}
	user, reply := snap.Messages[0], snap.Messages[1]
	if user.Sender != chat.SenderUser || user.MessageType != chat.TypeText || user.Content != "Hello" {
		t.Fatalf("unexpected user message %+v", user)
	}
	if reply.Sender != chat.SenderAssistant || reply.MessageType != chat.TypeText || reply.Content != "Hi there" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if user.ID == reply.ID {
		t.Fatal("message ids must be unique")
	}

	if len(sender.sent) != 1 || sender.uuids[0] != "c1" {
		t.Fatalf("unexpected sends %v %v", sender.sent, sender.uuids)
	}
	if env := sender.sent[0]; env.Type != chat.EnvelopeUserMessage || env.MessageType != chat.TypeText || env.Content != "Hello" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if snap.Affordance.Kind != KindTextInput {
		t.Fatalf("expected text input after reply, got %s", snap.Affordance.Kind)
	}
}

func TestLoadedSingleSelectOffersButtons(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{
		ChatUUID: "c1",
		Messages: []chat.Message{{
			ID:             1,
			Sender:         chat.SenderAssistant,
			MessageType:    chat.TypeSingleSelect,
			Content:        "How was it?",
			StructuredData: &chat.StructuredData{Options: []string{"Good", "Bad"}},
		}},
	}}
	ctrl := newTestController(t, sessions, &fakeSender{}, nil)
	if err := ctrl.LoadSession(context.Background()); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}

	aff := ctrl.Snapshot().Affordance
	if aff.Kind != KindButtons || len(aff.Options) != 2 || aff.Options[0] != "Good" || aff.Options[1] != "Bad" {
		t.Fatalf("unexpected affordance %+v", aff)
	}
}

func TestSubmitNetworkErrorAppendsFixedReply(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	sender := &fakeSender{err: errors.New("connection refused")}
	ctrl := newTestController(t, sessions, sender, nil)
	if err := ctrl.LoadSession(context.Background()); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}

	if err := ctrl.Submit(context.Background(), Text{Body: "Hello"}); err != nil {
		t.Fatalf("send failures must be absorbed, got %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Composing {
		t.Fatal("composing must recover after a failure")
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("expected exactly one failure message, got %d messages", len(snap.Messages))
	}
	if last := snap.Messages[1]; last.Sender != chat.SenderAssistant || last.Content != FailureReply {
		t.Fatalf("unexpected failure message %+v", last)
	}
	if snap.Affordance.Kind != KindTextInput {
		t.Fatalf("user should be able to retry, got %s", snap.Affordance.Kind)
	}
}

func TestSubmitEmptyReplyCountsAsFailure(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	ctrl := newTestController(t, sessions, &fakeSender{result: chat.SendResult{Reply: "  "}}, nil)
	_ = ctrl.LoadSession(context.Background())

	_ = ctrl.Submit(context.Background(), Text{Body: "Hello"})
	msgs := ctrl.Snapshot().Messages
	if msgs[len(msgs)-1].Content != FailureReply {
		t.Fatalf("expected failure reply, got %q", msgs[len(msgs)-1].Content)
	}
}

func TestSubmitDateSendsISODate(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	sender := &fakeSender{result: chat.SendResult{Reply: "Noted"}}
	ctrl := newTestController(t, sessions, sender, nil)
	_ = ctrl.LoadSession(context.Background())

	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local)
	if err := ctrl.Submit(context.Background(), Date{Day: day}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if env := sender.sent[0]; env.MessageType != chat.TypeText || env.Content != "2024-03-15" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if got := ctrl.Snapshot().Messages[0].Content; got != "2024-03-15" {
		t.Fatalf("displayed content %q differs from sent content", got)
	}
}

func TestSubmitPreconditions(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	sender := &fakeSender{result: chat.SendResult{Reply: "ok"}}
	ctrl := newTestController(t, sessions, sender, nil)

	if err := ctrl.Submit(context.Background(), Text{Body: "Hello"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	_ = ctrl.LoadSession(context.Background())
	if err := ctrl.Submit(context.Background(), Text{Body: "   "}); !errors.Is(err, ErrVacuous) {
		t.Fatalf("expected ErrVacuous, got %v", err)
	}
	if err := ctrl.Submit(context.Background(), ChecklistSelections{}); !errors.Is(err, ErrVacuous) {
		t.Fatalf("expected ErrVacuous for empty checklist, got %v", err)
	}
	if n := len(ctrl.Snapshot().Messages); n != 0 {
		t.Fatalf("rejected submits must not change the transcript, got %d messages", n)
	}
	if len(sender.sent) != 0 {
		t.Fatal("rejected submits must not reach the network")
	}
}

func TestSubmitRejectedWhileComposing(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	sender := &fakeSender{
		result:  chat.SendResult{Reply: "ok"},
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	ctrl := newTestController(t, sessions, sender, nil)
	_ = ctrl.LoadSession(context.Background())

	done := make(chan error, 1)
	go func() { done <- ctrl.Submit(context.Background(), Text{Body: "first"}) }()
	<-sender.started

	if err := ctrl.Submit(context.Background(), Text{Body: "second"}); !errors.Is(err, ErrComposing) {
		t.Fatalf("expected ErrComposing, got %v", err)
	}
	if aff := ctrl.Snapshot().Affordance; aff.Kind != KindNone {
		t.Fatalf("input must be disabled while composing, got %s", aff.Kind)
	}

	close(sender.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if n := len(ctrl.Snapshot().Messages); n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}
}

func TestSessionLoadFailureAndRetry(t *testing.T) {
	sessions := &fakeSessions{todayErr: errors.New("503")}
	ctrl := newTestController(t, sessions, &fakeSender{}, nil)

	if err := ctrl.LoadSession(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	snap := ctrl.Snapshot()
	if snap.Phase != PhaseFailed || snap.Err == nil {
		t.Fatalf("expected failed phase, got %s (%v)", snap.Phase, snap.Err)
	}
	if snap.Affordance.Kind != KindNone {
		t.Fatal("no input without a session")
	}

	sessions.mu.Lock()
	sessions.todayErr = nil
	sessions.today = chat.ChatSession{ChatUUID: "c1"}
	sessions.mu.Unlock()

	if err := ctrl.LoadSession(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.Phase != PhaseReady || snap.Err != nil || snap.ChatUUID != "c1" {
		t.Fatalf("unexpected state after retry %+v", snap)
	}
}

func TestPushDeliveryAppendsAndSkipsHandshake(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	push := &fakePush{}
	ctrl := newTestController(t, sessions, &fakeSender{}, push)
	if err := ctrl.LoadSession(context.Background()); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}

	push.push("c1", chat.PushEnvelope{Type: chat.PushConnectionEstablished, ChatState: chat.StateChemoCheckSent})
	if n := len(ctrl.Snapshot().Messages); n != 0 {
		t.Fatalf("connection notice must not reach the transcript, got %d messages", n)
	}

	push.push("c1", chat.PushEnvelope{
		Type:        chat.PushAssistantMessage,
		MessageType: chat.TypeMultiSelect,
		Content:     "Any symptoms?",
		Options:     []string{"Nausea", "Fatigue"},
	})
	snap := ctrl.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Sender != chat.SenderAssistant {
		t.Fatalf("unexpected transcript %+v", snap.Messages)
	}
	if snap.Affordance.Kind != KindChecklist || snap.Affordance.MaxSelections != 2 {
		t.Fatalf("unexpected affordance %+v", snap.Affordance)
	}

	ctrl.Deliver("someone-else", chat.PushEnvelope{Type: chat.PushSystemMessage, Content: "stray"})
	if n := len(ctrl.Snapshot().Messages); n != 1 {
		t.Fatalf("envelopes for another chat must be dropped, got %d", n)
	}
}

func TestPushArrivesWhileSendPending(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	sender := &fakeSender{result: chat.SendResult{Reply: "reply"}, release: make(chan struct{}), started: make(chan struct{})}
	push := &fakePush{}
	ctrl := newTestController(t, sessions, sender, push)
	_ = ctrl.LoadSession(context.Background())

	done := make(chan error, 1)
	go func() { done <- ctrl.Submit(context.Background(), Text{Body: "Hello"}) }()
	<-sender.started

	push.push("c1", chat.PushEnvelope{Type: chat.PushSystemMessage, Content: "Your nurse has been notified"})
	close(sender.release)
	<-done

	msgs := ctrl.Snapshot().Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Sender != chat.SenderUser || msgs[1].Content != "Your nurse has been notified" || msgs[2].Content != "reply" {
		t.Fatalf("unexpected order %+v", msgs)
	}
}

func TestStartNewSessionClosesPreviousPush(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	push := &fakePush{}
	ctrl := newTestController(t, sessions, &fakeSender{}, push)
	_ = ctrl.LoadSession(context.Background())

	if err := ctrl.StartNewSession(context.Background()); err != nil {
		t.Fatalf("StartNewSession: %v", err)
	}

	if len(push.conns) != 2 {
		t.Fatalf("expected a channel per session, got %d", len(push.conns))
	}
	if !push.conns[0].isClosed() || push.conns[1].isClosed() {
		t.Fatal("only the previous session's channel should be closed")
	}
	if snap := ctrl.Snapshot(); snap.ChatUUID != "chat-1" || !snap.IsNew {
		t.Fatalf("unexpected session %+v", snap)
	}

	_ = ctrl.Close()
	if !push.conns[1].isClosed() {
		t.Fatal("Close must close the active channel")
	}
}

func TestPushOpenFailureKeepsSession(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	ctrl := newTestController(t, sessions, &fakeSender{}, &fakePush{err: errors.New("dial failed")})

	if err := ctrl.LoadSession(context.Background()); err != nil {
		t.Fatalf("push failure must not fail the session: %v", err)
	}
	if ctrl.Snapshot().Phase != PhaseReady {
		t.Fatal("expected ready phase")
	}
}

func TestCompletionAfterCloseIsIgnored(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	sender := &fakeSender{result: chat.SendResult{Reply: "late"}, release: make(chan struct{}), started: make(chan struct{})}
	ctrl := newTestController(t, sessions, sender, nil)
	_ = ctrl.LoadSession(context.Background())

	done := make(chan error, 1)
	go func() { done <- ctrl.Submit(context.Background(), Text{Body: "Hello"}) }()
	<-sender.started

	_ = ctrl.Close()
	close(sender.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if n := len(ctrl.Snapshot().Messages); n != 1 {
		t.Fatalf("late reply must be dropped, got %d messages", n)
	}
	if err := ctrl.Submit(context.Background(), Text{Body: "again"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCompletionForReplacedSessionIsIgnored(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	sender := &fakeSender{result: chat.SendResult{Reply: "late"}, release: make(chan struct{}), started: make(chan struct{})}
	ctrl := newTestController(t, sessions, sender, nil)
	_ = ctrl.LoadSession(context.Background())

	done := make(chan error, 1)
	go func() { done <- ctrl.Submit(context.Background(), Text{Body: "Hello"}) }()
	<-sender.started

	if err := ctrl.StartNewSession(context.Background()); err != nil {
		t.Fatalf("StartNewSession: %v", err)
	}
	close(sender.release)
	<-done

	snap := ctrl.Snapshot()
	if len(snap.Messages) != 0 || snap.Composing {
		t.Fatalf("new session must stay clean, got %+v", snap)
	}
}

func TestDeferredSendWaitsForPush(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	push := &fakePush{}
	ctrl := newTestController(t, sessions, &fakeSender{result: chat.SendResult{Deferred: true}}, push)
	_ = ctrl.LoadSession(context.Background())

	if err := ctrl.Submit(context.Background(), Text{Body: "Hello"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap := ctrl.Snapshot()
	if len(snap.Messages) != 1 || snap.Composing || snap.Affordance.Kind != KindNone {
		t.Fatalf("unexpected state after deferred send %+v", snap)
	}
	if err := ctrl.Submit(context.Background(), Text{Body: "again"}); !errors.Is(err, ErrAwaitingReply) {
		t.Fatalf("expected ErrAwaitingReply, got %v", err)
	}

	push.push("c1", chat.PushEnvelope{Type: chat.PushAssistantMessage, Content: "Hi"})
	if ctrl.Snapshot().Affordance.Kind != KindTextInput {
		t.Fatal("push reply should re-enable input")
	}
}

func TestPushLossAfterDeferredSendFails(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	push := &fakePush{}
	sender := &fakeSender{result: chat.SendResult{Deferred: true}}
	ctrl := newTestController(t, sessions, sender, push)
	_ = ctrl.LoadSession(context.Background())

	if err := ctrl.Submit(context.Background(), Text{Body: "Hello"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	push.drop("c1")

	snap := ctrl.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected the failure reply after the drop, got %+v", snap.Messages)
	}
	if last := snap.Messages[1]; last.Sender != chat.SenderAssistant || last.Content != FailureReply {
		t.Fatalf("unexpected reply %+v", last)
	}
	if snap.Affordance.Kind != KindTextInput {
		t.Fatalf("input should be enabled again, got %v", snap.Affordance.Kind)
	}

	// The channel is gone, so a later deferred send cannot be answered.
	if err := ctrl.Submit(context.Background(), Text{Body: "again"}); err != nil {
		t.Fatalf("Submit after drop: %v", err)
	}
	snap = ctrl.Snapshot()
	if len(snap.Messages) != 4 || snap.Messages[3].Content != FailureReply {
		t.Fatalf("expected an immediate failure reply, got %+v", snap.Messages)
	}
}

func TestPushLossWithoutPendingReply(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	push := &fakePush{}
	ctrl := newTestController(t, sessions, &fakeSender{result: chat.SendResult{Reply: "ok"}}, push)
	_ = ctrl.LoadSession(context.Background())

	push.drop("c1")
	if n := len(ctrl.Snapshot().Messages); n != 0 {
		t.Fatalf("a drop with nothing owed must not append, got %d messages", n)
	}
}

func TestStaleChannelLossIgnored(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	push := &fakePush{}
	ctrl := newTestController(t, sessions, &fakeSender{result: chat.SendResult{Deferred: true}}, push)
	_ = ctrl.LoadSession(context.Background())
	_ = ctrl.StartNewSession(context.Background())
	_ = ctrl.Submit(context.Background(), Text{Body: "Hello"})

	push.drop("c1")
	snap := ctrl.Snapshot()
	if len(snap.Messages) != 1 || snap.Affordance.Kind != KindNone {
		t.Fatalf("loss of the previous session's channel must not touch this one, got %+v", snap)
	}
}

func TestPushErrorEnvelopeShownAsFailure(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	push := &fakePush{}
	ctrl := newTestController(t, sessions, &fakeSender{result: chat.SendResult{Deferred: true}}, push)
	_ = ctrl.LoadSession(context.Background())
	_ = ctrl.Submit(context.Background(), Text{Body: "Hello"})

	push.push("c1", chat.PushEnvelope{Type: chat.PushError, Content: "unsupported message type"})

	snap := ctrl.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected one reply, got %+v", snap.Messages)
	}
	if got := snap.Messages[1]; got.Sender != chat.SenderAssistant || got.Content != FailureReply {
		t.Fatalf("error envelope should read as the failure reply, got %+v", got)
	}
	if snap.Affordance.Kind != KindTextInput {
		t.Fatalf("input should be enabled again, got %v", snap.Affordance.Kind)
	}
}

func TestOnChangeFires(t *testing.T) {
	sessions := &fakeSessions{today: chat.ChatSession{ChatUUID: "c1"}}
	var mu sync.Mutex
	calls := 0
	ctrl := NewController(Options{
		Sessions: sessions,
		Sender:   &fakeSender{result: chat.SendResult{Reply: "ok"}},
		OnChange: func() {
			mu.Lock()
			calls++
			mu.Unlock()
		},
	})
	defer ctrl.Close()

	_ = ctrl.LoadSession(context.Background())
	_ = ctrl.Submit(context.Background(), Text{Body: "Hello"})

	mu.Lock()
	defer mu.Unlock()
	if calls < 4 {
		t.Fatalf("expected notifications for load and both submit phases, got %d", calls)
	}
}
