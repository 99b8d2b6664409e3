package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/frame"
	"github.com/matheus3301/relay/internal/presence"
	"github.com/matheus3301/relay/internal/registry"
	"github.com/matheus3301/relay/internal/router"
	"github.com/matheus3301/relay/internal/store"
)

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	in  chan []byte
	out chan frame.Outbound

	mu         sync.Mutex
	closed     bool
	closeCalls int
	code       websocket.StatusCode
	reason     string
	failWrites bool
}

func newTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), out: make(chan frame.Outbound, 64)}
}

func (f *fakeTransport) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return 0, nil, websocket.CloseError{Code: websocket.StatusNormalClosure}
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failWrites {
		return errors.New("use of closed connection")
	}
	out, err := frame.Decode(p)
	if err != nil {
		return err
	}
	f.out <- out
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closed {
		return errors.New("already closed")
	}
	f.closed, f.code, f.reason = true, code, reason
	return nil
}

func (f *fakeTransport) send(s string) { f.in <- []byte(s) }

// hangUp simulates the client closing the connection.
func (f *fakeTransport) hangUp() { close(f.in) }

func (f *fakeTransport) next(t *testing.T) frame.Outbound {
	t.Helper()
	select {
	case out := <-f.out:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return frame.Outbound{}
	}
}

func (f *fakeTransport) expectNone(t *testing.T) {
	t.Helper()
	select {
	case out := <-f.out:
		t.Errorf("unexpected frame %+v", out)
	default:
	}
}

type memStore struct {
	mu            sync.Mutex
	messages      []store.ChatMessage
	notifications []store.Notification
	states        []bool

	// offlineGate, when set, holds offline writes until it is closed.
	offlineGate    chan struct{}
	offlineEntered chan struct{}
}

func (m *memStore) SaveMessage(_ context.Context, msg *store.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.messages) + 1)
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStore) SaveNotification(_ context.Context, n *store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = int64(len(m.notifications) + 1)
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *memStore) SetUserOnlineState(_ context.Context, _ int64, online bool, _ time.Time) error {
	m.mu.Lock()
	gate, entered := m.offlineGate, m.offlineEntered
	m.mu.Unlock()
	if !online && gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, online)
	return nil
}

func (m *memStore) lastState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[len(m.states)-1]
}

func (m *memStore) counts() (msgs, notes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages), len(m.notifications)
}

type tokens map[string]int64

func (t tokens) Resolve(_ context.Context, token string) (int64, error) {
	if id, ok := t[token]; ok {
		return id, nil
	}
	return 0, auth.ErrInvalidCredential
}

type harness struct {
	reg  *registry.Registry
	db   *memStore
	deps *Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := registry.New()
	db := &memStore{}
	rt := router.New(reg, db, nil, zap.NewNop(), router.Options{WriteTimeout: time.Second})
	pr := presence.New(reg, rt, db, nil, zap.NewNop(), nil, time.Second)
	rt.SetOfflineHandler(pr.UserOffline)
	return &harness{
		reg: reg,
		db:  db,
		deps: &Deps{
			Resolver: tokens{"tok-a": 1, "tok-b": 2},
			Registry: reg,
			Router:   rt,
			Presence: pr,
			Logger:   zap.NewNop(),
		},
	}
}

type running struct {
	s    *Session
	ws   *fakeTransport
	done chan error
}

func (h *harness) open(t *testing.T, token string) *running {
	t.Helper()
	ws := newTransport()
	r := &running{s: New(ws, h.deps), ws: ws, done: make(chan error, 1)}
	go func() { r.done <- r.s.Run(context.Background(), token) }()
	return r
}

// connect opens a session and consumes its own online broadcast (when first) and connected ack.
func (h *harness) connect(t *testing.T, token string, user int64, first bool) *running {
	t.Helper()
	r := h.open(t, token)
	if first {
		if got := r.ws.next(t); got.Type != frame.TypeUserStatusUpdate || got.UserID != user || !got.IsOnline {
			t.Fatalf("first frame = %+v, want own online status", got)
		}
	}
	if got := r.ws.next(t); got.Type != frame.TypeConnected || got.UserID != user || got.Message != "Connected to chat" {
		t.Fatalf("ack = %+v, want connected for %d", got, user)
	}
	return r
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestRejectInvalidToken(t *testing.T) {
	for _, token := range []string{"", "bogus"} {
		t.Run("token="+token, func(t *testing.T) {
			h := newHarness(t)
			r := h.open(t, token)

			err := r.wait(t)
			if !errors.Is(err, auth.ErrInvalidCredential) {
				t.Errorf("Run() error = %v, want ErrInvalidCredential", err)
			}
			if r.ws.code != websocket.StatusPolicyViolation || r.ws.reason != "Invalid authentication" {
				t.Errorf("closed with %d %q, want 1008 Invalid authentication", r.ws.code, r.ws.reason)
			}
			if r.s.State() != Rejected {
				t.Errorf("state = %s, want REJECTED", r.s.State())
			}
			if users, _ := h.reg.Len(); users != 0 {
				t.Error("rejected session touched the registry")
			}
			r.ws.expectNone(t)
		})
	}
}

func TestPingPongOnlyToSender(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "tok-a", 1, true)
	b := h.connect(t, "tok-b", 2, true)
	a.ws.next(t) // b online

	a.ws.send(`{"type":"ping"}`)
	if got := a.ws.next(t); got.Type != frame.TypePong {
		t.Errorf("got %+v, want pong", got)
	}
	b.ws.expectNone(t)
	if a.s.State() != Active {
		t.Errorf("state = %s, want ACTIVE", a.s.State())
	}
}

func TestBadFramesKeepSessionActive(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"malformed json", `{"type":`, "Invalid JSON format"},
		{"empty message", `{"type":"chat_message","message":""}`, "Message cannot be empty"},
		{"missing message", `{"type":"chat_message","receiver_id":2}`, "Message cannot be empty"},
		{"unknown type", `{"type":"typing"}`, "Unknown message type: typing"},
		{"no type", `{"hello":1}`, "Unknown message type: missing"},
		{"numeric type", `{"type":5}`, "Message type must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			a := h.connect(t, "tok-a", 1, true)

			a.ws.send(tt.input)
			got := a.ws.next(t)
			if got.Type != frame.TypeError || got.Message != tt.want {
				t.Errorf("got %+v, want error %q", got, tt.want)
			}

			a.ws.send(`{"type":"ping"}`)
			if got := a.ws.next(t); got.Type != frame.TypePong {
				t.Errorf("after bad frame got %+v, want pong", got)
			}
			if msgs, _ := h.db.counts(); msgs != 0 {
				t.Errorf("persisted %d messages, want 0", msgs)
			}
		})
	}
}

func TestChatBetweenTwoUsers(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "tok-a", 1, true)
	b := h.connect(t, "tok-b", 2, true)
	if got := a.ws.next(t); got.Type != frame.TypeUserStatusUpdate || got.UserID != 2 || !got.IsOnline {
		t.Fatalf("a got %+v, want b online", got)
	}

	a.ws.send(`{"type":"chat_message","receiver_id":2,"message":"hi"}`)

	got := b.ws.next(t)
	if got.Type != frame.TypeNotification || got.Data == nil || got.Data.Message != "hi" || got.Data.SenderID != 1 {
		t.Errorf("b got %+v, want notification hi", got)
	}
	echo := a.ws.next(t)
	if echo.Type != frame.TypeMessageSent || echo.Data == nil || echo.Data.ChatID != got.Data.ChatID {
		t.Errorf("a got %+v, want message_sent echo", echo)
	}

	msgs, notes := h.db.counts()
	if msgs != 1 || notes != 1 {
		t.Fatalf("persisted %d messages, %d notifications, want 1 and 1", msgs, notes)
	}
	n := h.db.notifications[0]
	if n.UserID != 2 || n.RelatedChatID == nil || *n.RelatedChatID != got.Data.ChatID {
		t.Errorf("notification = %+v", n)
	}
}

func TestOfflineFiresOnlyForLastConnection(t *testing.T) {
	h := newHarness(t)
	d1 := h.connect(t, "tok-a", 1, true)
	d2 := h.connect(t, "tok-a", 1, false)
	observer := h.connect(t, "tok-b", 2, true)
	d1.ws.next(t) // b online
	d2.ws.next(t)

	d1.ws.hangUp()
	if err := d1.wait(t); err != nil {
		t.Errorf("Run() error = %v, want nil for client close", err)
	}
	observer.ws.expectNone(t)
	d2.ws.expectNone(t)
	if !h.reg.IsOnline(1) {
		t.Fatal("user 1 went offline with a device still connected")
	}

	d2.ws.hangUp()
	_ = d2.wait(t)
	got := observer.ws.next(t)
	if got.Type != frame.TypeUserStatusUpdate || got.UserID != 1 || got.IsOnline {
		t.Errorf("observer got %+v, want user 1 offline", got)
	}
	observer.ws.expectNone(t)

	d2.s.cleanup()
	d1.s.cleanup()
	observer.ws.expectNone(t)

	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	offlineWrites := 0
	for _, online := range h.db.states {
		if !online {
			offlineWrites++
		}
	}
	if offlineWrites != 1 {
		t.Errorf("offline writes = %d, want 1", offlineWrites)
	}
}

func TestReconnectDuringOfflineWriteStaysOnline(t *testing.T) {
	h := newHarness(t)
	observer := h.connect(t, "tok-b", 2, true)
	d1 := h.connect(t, "tok-a", 1, true)
	if got := observer.ws.next(t); !got.IsOnline || got.UserID != 1 {
		t.Fatalf("observer got %+v, want user 1 online", got)
	}

	gate := make(chan struct{})
	h.db.mu.Lock()
	h.db.offlineGate, h.db.offlineEntered = gate, make(chan struct{}, 1)
	entered := h.db.offlineEntered
	h.db.mu.Unlock()

	d1.ws.hangUp()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("offline write never started")
	}

	d2 := h.open(t, "tok-a")
	deadline := time.Now().Add(2 * time.Second)
	for !h.reg.IsOnline(1) {
		if time.Now().After(deadline) {
			t.Fatal("second device never registered")
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)
	if err := d1.wait(t); err != nil {
		t.Errorf("Run() error = %v", err)
	}

	// Whatever the observer saw in between, the last word must be online.
	var last frame.Outbound
	for {
		got := observer.ws.next(t)
		if got.Type != frame.TypeUserStatusUpdate || got.UserID != 1 {
			t.Fatalf("observer got %+v, want user 1 status", got)
		}
		last = got
		if got.IsOnline {
			break
		}
	}
	observer.ws.expectNone(t)
	if !last.IsOnline {
		t.Errorf("observer last saw %+v, want online", last)
	}

	for {
		got := d2.ws.next(t)
		if got.Type == frame.TypeConnected {
			break
		}
	}
	if d2.s.State() != Active || !h.reg.IsOnline(1) {
		t.Errorf("state = %s online = %v, want ACTIVE and online", d2.s.State(), h.reg.IsOnline(1))
	}
	if !h.db.lastState() {
		t.Error("last durable write is offline while user 1 is connected")
	}
}

func TestCleanupClosesTransportOnce(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "tok-a", 1, true)

	a.ws.hangUp()
	_ = a.wait(t)
	a.s.cleanup()

	if a.ws.closeCalls != 1 {
		t.Errorf("Close called %d times, want 1", a.ws.closeCalls)
	}
	if a.s.State() != Closed {
		t.Errorf("state = %s, want CLOSED", a.s.State())
	}
	if h.reg.IsOnline(1) {
		t.Error("user still registered")
	}
}

func TestContextCancelEndsSession(t *testing.T) {
	h := newHarness(t)
	ws := newTransport()
	s := New(ws, h.deps)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "tok-a") }()
	ws.next(t)
	ws.next(t)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session ignored cancellation")
	}
	if ws.code != websocket.StatusGoingAway || ws.reason != ShutdownReason {
		t.Errorf("closed with %v %q, want going away", ws.code, ws.reason)
	}
	if h.reg.IsOnline(1) {
		t.Error("cancelled session left user online")
	}
}

func TestFailedSendDropsSession(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "tok-a", 1, true)
	b := h.connect(t, "tok-b", 2, true)
	a.ws.next(t)

	b.ws.mu.Lock()
	b.ws.failWrites = true
	b.ws.mu.Unlock()

	a.ws.send(`{"type":"chat_message","receiver_id":2,"message":"lost"}`)
	if err := b.wait(t); err != nil {
		t.Errorf("dropped session Run() error = %v", err)
	}

	// a sees b go offline, then its own echo.
	if got := a.ws.next(t); got.Type != frame.TypeUserStatusUpdate || got.UserID != 2 || got.IsOnline {
		t.Errorf("a got %+v, want b offline", got)
	}
	if got := a.ws.next(t); got.Type != frame.TypeMessageSent {
		t.Errorf("a got %+v, want message_sent", got)
	}
	if _, notes := h.db.counts(); notes != 1 {
		t.Errorf("notifications = %d, want 1", notes)
	}
	if h.reg.IsOnline(2) {
		t.Error("b still registered")
	}
}

func TestFrameRateLimitPreservesOrder(t *testing.T) {
	h := newHarness(t)
	h.deps.FrameRate = 1000
	h.deps.FrameBurst = 1
	a := h.connect(t, "tok-a", 1, true)

	a.ws.send(`{"type":"ping"}`)
	a.ws.send(`{"type":"nope"}`)
	a.ws.send(`{"type":"ping"}`)

	want := []string{frame.TypePong, frame.TypeError, frame.TypePong}
	for i, w := range want {
		if got := a.ws.next(t); got.Type != w {
			t.Errorf("frame %d = %s, want %s", i, got.Type, w)
		}
	}
}

func TestStateTable(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Connecting, Authenticating, true},
		{Authenticating, Active, true},
		{Authenticating, Rejected, true},
		{Active, Closing, true},
		{Closing, Closed, true},
		{Connecting, Active, false},
		{Rejected, Active, false},
		{Closed, Active, false},
		{Active, Active, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			s := &Session{state: tt.from}
			err := s.transition(tt.to)
			if (err == nil) != tt.ok {
				t.Errorf("transition error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
	for _, st := range []State{Closed, Rejected} {
		if !st.Terminal() {
			t.Errorf("%s should be terminal", st)
		}
	}
	if Active.Terminal() {
		t.Error("ACTIVE should not be terminal")
	}
}
