package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

const sessionEndedReason = "session ended"

// JoinValidator decides whether a session accepts new connections.
type JoinValidator interface {
	ValidateJoin(ctx context.Context, sessionID int64) error
}

// Options tunes heartbeat and buffering for accepted connections.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   defaultBufferSize,
	}
}

// Handler upgrades HTTP requests into registered session connections.
type Handler struct {
	registry *Registry
	sessions JoinValidator
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, sessions JoinValidator, opts Options) *Handler {
	return &Handler{
		registry: registry,
		sessions: sessions,
		opts:     opts,
		upgrader: websocket.Upgrader{
			// Origin checks belong to the deployment's reverse proxy.
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Serve validates the query, upgrades and registers the connection, then
// runs its read pump in the background. Students must send a name;
// instructors may omit it.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, sessionID int64, role string) {
	clientID := r.URL.Query().Get("client_id")
	name := types.NormalizeName(r.URL.Query().Get("name"))

	if !types.IsValidClientID(clientID) {
		http.Error(w, "Invalid or missing client_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "Invalid role: must be 'student' or 'instructor'", http.StatusBadRequest)
		return
	}
	if role == types.RoleInstructor && name == "" {
		name = "Instructor"
	}
	if !types.IsValidName(name) {
		http.Error(w, "Invalid or missing name", http.StatusBadRequest)
		return
	}

	if err := h.sessions.ValidateJoin(r.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, interfaces.ErrInvalidState):
			http.Error(w, "Session has ended", http.StatusGone)
		default:
			http.Error(w, "Session validation failed", http.StatusInternalServerError)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.opts.BufferSize, h.opts.WriteTimeout)
	if err := wsConn.SetCredentials(clientID, name, role, sessionID); err != nil {
		log.Printf("Failed to set credentials: %v", err)
		_ = wsConn.Close()
		return
	}

	if err := h.registry.Register(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}
	log.Printf("Connection registered: session=%d client=%s role=%s", sessionID, clientID, role)

	// A session that ended after the first check has already delivered its
	// eviction, so this connection would never receive one.
	if err := h.sessions.ValidateJoin(r.Context(), sessionID); errors.Is(err, interfaces.ErrInvalidState) {
		h.registry.Unregister(wsConn)
		_ = wsConn.Evict(nil, sessionEndedReason)
		log.Printf("Session ended during join: session=%d client=%s", sessionID, clientID)
		return
	}

	go h.handleConnection(wsConn)
}

// handleConnection is the read pump. Any read error, including a missed
// heartbeat, unregisters the connection at once.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		log.Printf("Connection closed: session=%d client=%s", conn.GetSessionID(), conn.GetClientID())
	}()

	readTimeout := h.opts.ReadTimeout
	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(conn)

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		// Clients never send commands over the socket; any frame just extends the deadline.
		_ = conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
