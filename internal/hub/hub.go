// Package hub fans session events out to every connection of a session.
package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"classpulse/internal/metrics"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

var _ interfaces.Publisher = (*Hub)(nil)

const (
	defaultEventBuffer = 1000
	evictionReason     = "session ended"
)

// TargetSource yields the current connections of a session.
type TargetSource interface {
	SessionTargets(sessionID int64) []interfaces.Connection
}

// Hub owns the single goroutine that stamps and delivers envelopes.
// Delivery is fire-and-forget: failed sends are logged, counted and dropped.
type Hub struct {
	eventChannel    chan types.Event
	shutdownChannel chan struct{}
	done            chan struct{}

	targets TargetSource
	metrics *metrics.Metrics
	now     func() time.Time

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub reading targets from source. bufferSize <= 0 uses 1000.
// m may be nil.
func NewHub(source TargetSource, bufferSize int, m *metrics.Metrics) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	return &Hub{
		eventChannel: make(chan types.Event, bufferSize),
		targets:      source,
		metrics:      m,
		now:          time.Now,
	}
}

func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	log.Println("Starting fanout hub...")
	go h.run(ctx, h.shutdownChannel, h.done)

	return nil
}

// Stop ends the hub loop and waits for it to exit. Queued events that were
// not yet delivered are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	log.Println("Stopping fanout hub...")
	<-done
	return nil
}

// Publish queues event without blocking. A full queue drops the event.
func (h *Hub) Publish(event types.Event) error {
	if event == nil {
		return ErrInvalidEvent
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		h.recordDrop(event)
		return ErrHubNotRunning
	}

	select {
	case h.eventChannel <- event:
		return nil
	default:
		h.recordDrop(event)
		log.Printf("Event dropped, channel full: kind=%s session=%d", event.Kind(), event.Session())
		return ErrEventChannelFull
	}
}

func (h *Hub) recordDrop(event types.Event) {
	h.dropped.Add(1)
	h.metrics.EventDropped(string(event.Kind()))
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Println("Fanout hub stopped")

	for {
		select {
		case event := <-h.eventChannel:
			h.deliver(event)

		case <-shutdown:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// deliver stamps the next sequence number and sends the envelope to every
// target. A session-ended envelope is followed by a close frame.
func (h *Hub) deliver(event types.Event) {
	env := types.NewEnvelope(event, h.seq.Add(1), h.now())
	h.published.Add(1)
	h.metrics.EventPublished(string(event.Kind()))

	_, ending := event.(types.SessionEnded)
	targets := h.targets.SessionTargets(event.Session())

	for _, conn := range targets {
		var err error
		if ending {
			err = conn.Evict(env, evictionReason)
		} else {
			err = conn.Send(env)
		}
		h.metrics.FanoutSend(err)
		if err != nil {
			h.failed.Add(1)
			log.Printf("Fanout send failed: kind=%s session=%d client=%s err=%v",
				event.Kind(), event.Session(), conn.GetClientID(), err)
		}
	}

	log.Printf("Event delivered: kind=%s session=%d seq=%d targets=%d",
		event.Kind(), event.Session(), env.Seq, len(targets))
}

// GetStats reports hub counters for the health endpoint.
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()

	return map[string]interface{}{
		"running":      running,
		"queued":       len(h.eventChannel),
		"last_seq":     h.seq.Load(),
		"published":    h.published.Load(),
		"dropped":      h.dropped.Load(),
		"failed_sends": h.failed.Load(),
	}
}
