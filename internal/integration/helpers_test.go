// Package integration drives a fully wired server over real HTTP and
// WebSocket connections.
package integration

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"classpulse/internal/app"
	"classpulse/internal/config"
	"classpulse/pkg/client"
	"classpulse/pkg/types"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

// startApp runs a complete server on a free port and returns its base URL.
func startApp(t *testing.T, configure func(*config.Config)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "classpulse.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	cfg.Grading.Timeout = 2 * time.Second
	if configure != nil {
		configure(cfg)
	}

	application, err := app.NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	return "http://" + application.GetAddr()
}

// launchQuestions creates one template per text and launches each into the session.
func launchQuestions(t *testing.T, c *client.Client, sessionID int64, texts ...string) []*types.SessionQuestion {
	t.Helper()
	ctx := context.Background()

	out := make([]*types.SessionQuestion, len(texts))
	for i, text := range texts {
		tpl, err := c.CreateQuestion(ctx, text, "Any reasonable answer", nil)
		require.NoError(t, err)
		q, err := c.LaunchQuestion(ctx, sessionID, tpl.ID)
		require.NoError(t, err)
		out[i] = q
	}
	return out
}

// dialStudent opens a bare student socket, so tests can drop it without a
// close handshake.
func dialStudent(t *testing.T, base string, sessionID int64, clientID, name string) *websocket.Conn {
	t.Helper()

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("name", name)
	u := fmt.Sprintf("ws%s/api/student/ws/%d?%s", strings.TrimPrefix(base, "http"), sessionID, q.Encode())

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)

	// Drain so the client answers server pings.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return conn
}

// collector buffers a subscription's envelopes for assertions.
type collector struct {
	envelopes chan types.Envelope
}

// collect gathers envelopes from sub until it ends.
func collect(sub *client.Subscription) *collector {
	c := &collector{envelopes: make(chan types.Envelope, 64)}
	go func() {
		defer close(c.envelopes)
		for env := range sub.Envelopes() {
			c.envelopes <- env
		}
	}()
	return c
}

// next waits for the next envelope of kind, skipping others.
func (c *collector) next(t *testing.T, kind types.EventKind) types.Envelope {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case env, ok := <-c.envelopes:
			require.True(t, ok, "subscription ended while waiting for %s", kind)
			if env.Type == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s envelope within %s", kind, waitFor)
		}
	}
}

// count drains whatever arrives within d and counts envelopes of kind.
func (c *collector) count(kind types.EventKind, d time.Duration) int {
	n := 0
	deadline := time.After(d)
	for {
		select {
		case env, ok := <-c.envelopes:
			if !ok {
				return n
			}
			if env.Type == kind {
				n++
			}
		case <-deadline:
			return n
		}
	}
}
