package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"classpulse/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

const (
	defaultBufferSize   = 100
	defaultWriteTimeout = 5 * time.Second
)

// outbound is one frame for the writer goroutine. A final frame closes the
// transport after it is written.
type outbound struct {
	data      []byte
	final     bool
	closeCode int
	closeText string
}

// Connection wraps a websocket with a single writer goroutine.
// All writes are serialized through writeCh.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan outbound
	writeTimeout time.Duration

	clientID      string
	name          string
	role          string
	sessionID     int64
	authenticated bool
	mu            sync.RWMutex

	evicting  atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection starts the writer for conn. bufferSize <= 0 uses the default of 100.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan outbound, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.writeCh:
			if len(frame.data) > 0 {
				if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
					_ = c.Close()
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, frame.data); err != nil {
					_ = c.Close()
					return
				}
			}

			if frame.final {
				msg := websocket.FormatCloseMessage(frame.closeCode, frame.closeText)
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues v without blocking.
func (c *Connection) Send(v interface{}) error {
	if c.evicting.Load() {
		return ErrConnectionClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.enqueue(outbound{data: data})
}

// Evict queues v and a normal close frame carrying reason, then closes the
// transport once both are written. If the buffer is full the transport is
// closed straight away.
func (c *Connection) Evict(v interface{}, reason string) error {
	if !c.evicting.CompareAndSwap(false, true) {
		return ErrConnectionClosed
	}

	frame := outbound{final: true, closeCode: websocket.CloseNormalClosure, closeText: reason}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			_ = c.Close()
			return ErrInvalidJSON
		}
		frame.data = data
	}

	if err := c.enqueue(frame); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *Connection) enqueue(frame outbound) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrBufferFull
	}
}

// Close tears the transport down. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetCredentials fixes the identity of the connection. The display name is
// set once here and never changes afterwards.
func (c *Connection) SetCredentials(clientID, name, role string, sessionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authenticated {
		return ErrInvalidParameters
	}
	c.clientID = clientID
	c.name = name
	c.role = role
	c.sessionID = sessionID
	c.authenticated = true
	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Connection) GetName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) GetSessionID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
