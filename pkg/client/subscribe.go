package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"classpulse/pkg/types"
)

// Subscription is a live push stream for one session.
type Subscription struct {
	conn      *websocket.Conn
	envelopes chan types.Envelope
	done      chan struct{}

	mu  sync.Mutex
	err error

	closeOnce      sync.Once
	closedByClient atomic.Bool
}

// Subscribe opens the session's WebSocket. Students must pass a name.
// A rejected handshake returns an *APIError, so an unknown or ended
// session satisfies IsNotFound.
func (c *Client) Subscribe(ctx context.Context, sessionID int64, clientID, name, role string) (*Subscription, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	scope := "student"
	if role == types.RoleInstructor {
		scope = "admin"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/api/%s/ws/%d", scope, sessionID)
	q := u.Query()
	q.Set("client_id", clientID)
	if name != "" {
		q.Set("name", name)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			body, _ := io.ReadAll(resp.Body)
			return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s := &Subscription{
		conn:      conn,
		envelopes: make(chan types.Envelope, 64),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Subscription) readLoop() {
	defer close(s.envelopes)
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(err)
			_ = s.conn.Close()
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case s.envelopes <- env:
		default:
			// Dropped while the consumer lags. The next envelope or poll catches up.
		}
	}
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Envelopes yields pushes in arrival order. It is closed when the stream ends.
func (s *Subscription) Envelopes() <-chan types.Envelope {
	return s.envelopes
}

// Done is closed when the stream ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended. A server-side eviction is a
// *websocket.CloseError with code 1000.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Evicted reports whether the server closed the stream because the session ended.
func (s *Subscription) Evicted() bool {
	if s.closedByClient.Load() {
		return false
	}
	var ce *websocket.CloseError
	return errors.As(s.Err(), &ce) && ce.Code == websocket.CloseNormalClosure
}

// Close ends the stream from the client side.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closedByClient.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
		err = s.conn.Close()
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
