package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/matheus3301/relay/internal/frame"
)

// Message is one entry of REST chat history.
type Message struct {
	ID          int64  `json:"id"`
	Message     string `json:"message"`
	SenderID    int64  `json:"sender_id"`
	ReceiverID  *int64 `json:"receiver_id"`
	ChatRoomID  *int64 `json:"chat_room_id"`
	MessageType string `json:"message_type"`
	IsRead      bool   `json:"is_read"`
	CreatedAt   string `json:"created_at"`
}

// Chat is a user's connection to the gateway: a WebSocket for live frames and
// bearer-authenticated REST for history.
type Chat struct {
	base   *url.URL
	token  string
	http   *http.Client
	ws     *websocket.Conn
	frames chan frame.Outbound

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// DialChat opens the chat WebSocket at baseURL (http or https) with token.
func DialChat(ctx context.Context, baseURL, token string) (*Chat, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	wsURL := *base
	switch base.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimSuffix(base.Path, "/") + "/ws/chat"
	wsURL.RawQuery = url.Values{"token": {token}}.Encode()

	ws, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	c := &Chat{
		base:    base,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		ws:      ws,
		frames:  make(chan frame.Outbound, 64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Chat) readLoop() {
	defer close(c.done)
	defer close(c.frames)
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			c.err = err
			return
		}
		out, err := frame.Decode(data)
		if err != nil {
			continue
		}
		select {
		case c.frames <- out:
		case <-c.closing:
			return
		}
	}
}

// Frames delivers server frames until the connection ends.
func (c *Chat) Frames() <-chan frame.Outbound { return c.frames }

// Err reports why the connection ended. Valid after Frames is closed.
func (c *Chat) Err() error {
	<-c.done
	return c.err
}

// Send posts a chat message to a user or a room.
func (c *Chat) Send(ctx context.Context, receiverID, roomID *int64, text string) error {
	data, err := frame.ChatMessage(receiverID, roomID, text)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Ping sends an application-level ping; the reply arrives as a pong frame.
func (c *Chat) Ping(ctx context.Context) error {
	return c.ws.Write(ctx, websocket.MessageText, frame.Ping())
}

// History fetches messages exchanged with peer, oldest first.
func (c *Chat) History(ctx context.Context, peer int64, limit int) ([]Message, error) {
	q := url.Values{"receiver_id": {strconv.FormatInt(peer, 10)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Message
	if err := c.get(ctx, "/chat/messages", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chat) get(ctx context.Context, path string, q url.Values, out any) error {
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + path
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Detail == "" {
			body.Detail = resp.Status
		}
		return fmt.Errorf("GET %s: %s", path, body.Detail)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Close ends the WebSocket with a normal closure.
func (c *Chat) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	<-c.done
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
