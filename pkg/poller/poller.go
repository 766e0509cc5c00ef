// Package poller keeps a client view in step with the server by combining
// push notifications with a fixed-interval refresh.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"classpulse/pkg/types"
)

// DefaultInterval is the refresh period when none is given.
const DefaultInterval = 3000 * time.Millisecond

// Poller re-fetches a snapshot of type S on a timer and whenever it is
// triggered. Each refresh takes a sequence number when it starts and its
// result is applied only if no later refresh has been applied already.
type Poller[S any] struct {
	fetch     func(ctx context.Context) (S, error)
	interval  time.Duration
	onUpdate  func(S)
	onError   func(error)
	onEvicted func()
	isEvicted func(error) bool

	trigger chan struct{}
	evictCh chan struct{}
	once    sync.Once

	issued atomic.Uint64

	mu      sync.Mutex
	applied uint64
	state   S
	loaded  bool
}

type Option[S any] func(*Poller[S])

// WithInterval sets the refresh period. Non-positive values are ignored.
func WithInterval[S any](d time.Duration) Option[S] {
	return func(p *Poller[S]) {
		if d > 0 {
			p.interval = d
		}
	}
}

// OnUpdate is called with every applied snapshot, in sequence order. It
// runs under the poller's lock and must not call Snapshot or Applied.
func OnUpdate[S any](fn func(S)) Option[S] {
	return func(p *Poller[S]) { p.onUpdate = fn }
}

// OnError is called for fetch failures that do not mean eviction.
func OnError[S any](fn func(error)) Option[S] {
	return func(p *Poller[S]) { p.onError = fn }
}

// OnEvicted is called once when the session is gone.
func OnEvicted[S any](fn func()) Option[S] {
	return func(p *Poller[S]) { p.onEvicted = fn }
}

// EvictWhen decides which fetch errors mean the session is gone.
func EvictWhen[S any](fn func(error) bool) Option[S] {
	return func(p *Poller[S]) { p.isEvicted = fn }
}

func New[S any](fetch func(ctx context.Context) (S, error), opts ...Option[S]) *Poller[S] {
	p := &Poller[S]{
		fetch:     fetch,
		interval:  DefaultInterval,
		isEvicted: func(error) bool { return false },
		trigger:   make(chan struct{}, 1),
		evictCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run refreshes immediately, then on every tick and trigger, until ctx is
// done or the poller is evicted. It returns nil after eviction and
// ctx.Err() otherwise. In-flight refreshes are cancelled and awaited
// before it returns.
func (p *Poller[S]) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	refresh := func() {
		seq := p.issued.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.refresh(ctx, seq)
		}()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	refresh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.evictCh:
			return nil
		case <-ticker.C:
			refresh()
		case <-p.trigger:
			refresh()
		}
	}
}

func (p *Poller[S]) refresh(ctx context.Context, seq uint64) {
	state, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if p.isEvicted(err) {
			p.Evict()
			return
		}
		if p.onError != nil {
			p.onError(err)
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.applied || p.evicted() {
		return
	}
	p.applied = seq
	p.state = state
	p.loaded = true
	if p.onUpdate != nil {
		p.onUpdate(state)
	}
}

// Trigger asks for an immediate refresh. Triggers that arrive while one is
// already pending are coalesced.
func (p *Poller[S]) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Evict stops the poller and runs OnEvicted. Only the first call has an effect.
func (p *Poller[S]) Evict() {
	p.once.Do(func() {
		close(p.evictCh)
		if p.onEvicted != nil {
			p.onEvicted()
		}
	})
}

func (p *Poller[S]) evicted() bool {
	select {
	case <-p.evictCh:
		return true
	default:
		return false
	}
}

// HandleEnvelope routes a push: session-ended evicts, anything else triggers.
func (p *Poller[S]) HandleEnvelope(env types.Envelope) {
	if env.Type == types.EventSessionEnded {
		p.Evict()
		return
	}
	p.Trigger()
}

// Snapshot returns the last applied state and whether there is one.
func (p *Poller[S]) Snapshot() (S, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.loaded
}

// Applied returns the sequence number of the last applied refresh.
func (p *Poller[S]) Applied() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}
