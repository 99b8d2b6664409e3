package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/matheus3301/relay/internal/frame"
)

// fakeGateway answers the chat socket and the history endpoint.
func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()
		write := func(v any) {
			data, _ := json.Marshal(v)
			_ = ws.Write(ctx, websocket.MessageText, data)
		}
		write(frame.NewConnected(1))
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			in, err := frame.Parse(data)
			if err != nil {
				write(frame.NewError(err.Error()))
				continue
			}
			switch in.Type {
			case frame.TypePing:
				write(frame.NewPong())
			case frame.TypeChatMessage:
				write(frame.NewMessageSent(frame.NewChatData(10, 1, in.Message, time.Now())))
			}
		}
	})
	mux.HandleFunc("/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Not authenticated"}`))
			return
		}
		if r.URL.Query().Get("receiver_id") != "2" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"invalid receiver_id"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":1,"message":"old","sender_id":2,"receiver_id":1,"is_read":false,"created_at":"2026-01-02T03:04:05Z"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func next(t *testing.T, c *Chat) frame.Outbound {
	t.Helper()
	select {
	case out, ok := <-c.Frames():
		if !ok {
			t.Fatalf("connection closed: %v", c.Err())
		}
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return frame.Outbound{}
	}
}

func TestChatRoundTrip(t *testing.T) {
	srv := fakeGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := DialChat(ctx, srv.URL, "tok")
	if err != nil {
		t.Fatalf("DialChat() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	if got := next(t, c); got.Type != frame.TypeConnected || got.UserID != 1 {
		t.Fatalf("first frame = %+v, want connected", got)
	}

	if err := c.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if got := next(t, c); got.Type != frame.TypePong {
		t.Errorf("reply = %+v, want pong", got)
	}

	peer := int64(2)
	if err := c.Send(ctx, &peer, nil, "hello"); err != nil {
		t.Fatal(err)
	}
	got := next(t, c)
	if got.Type != frame.TypeMessageSent || got.Data == nil || got.Data.Message != "hello" {
		t.Errorf("reply = %+v, want message_sent", got)
	}
}

func TestChatHistory(t *testing.T) {
	srv := fakeGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := DialChat(ctx, srv.URL, "tok")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	msgs, err := c.History(ctx, 2, 50)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Message != "old" || msgs[0].SenderID != 2 {
		t.Errorf("history = %+v", msgs)
	}

	if _, err := c.History(ctx, 3, 0); err == nil {
		t.Error("History() should surface the server detail")
	}
}

func TestDialChatRejected(t *testing.T) {
	srv := fakeGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := DialChat(ctx, srv.URL, "wrong"); err == nil {
		t.Error("DialChat() accepted a refused upgrade")
	}
}
