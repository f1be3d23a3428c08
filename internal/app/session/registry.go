package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hashicorp/go-multierror"
)

const maxStoppedRetries = 3

var ErrShuttingDown = errors.New("session registry shutting down")

// Registry hosts one actor per session id, activated on first use and
// evicted after IdleTTL without traffic. Channel tables are kept across
// eviction so live channels are reattached on the next activation.
type Registry struct {
	deps    Deps
	idleTTL time.Duration

	mu     sync.Mutex
	closed bool
	actors map[string]*Actor
	tables map[string]*ChannelTable

	// draining holds, per session, a channel closed once an evicted actor has stopped.
	draining map[string]chan struct{}
}

func NewRegistry(deps Deps, idleTTL time.Duration) *Registry {
	return &Registry{
		deps:     deps.withDefaults(),
		idleTTL:  idleTTL,
		actors:   map[string]*Actor{},
		tables:   map[string]*ChannelTable{},
		draining: map[string]chan struct{}{},
	}
}

// Actor returns the live actor for sessionID, starting one if needed. An
// actor whose bootstrap failed is replaced so the next call retries the load.
// A replacement for an evicted actor does not load until the old one has stopped.
func (r *Registry) Actor(ctx context.Context, sessionID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[sessionID]; ok && !a.failed() {
		return a
	}
	table, ok := r.tables[sessionID]
	if !ok {
		table = NewChannelTable()
		r.tables[sessionID] = table
	}
	a := startActor(ctx, sessionID, r.deps, table, r.draining[sessionID])
	r.actors[sessionID] = a
	return a
}

func (r *Registry) Fetch(ctx context.Context, sessionID string, req Request) (Response, error) {
	var resp Response
	err := r.withActor(ctx, sessionID, func(a *Actor) error {
		var err error
		resp, err = a.Fetch(ctx, req)
		return err
	})
	return resp, err
}

func (r *Registry) Accept(ctx context.Context, sessionID string, ch Channel, clientID string) error {
	return r.withActor(ctx, sessionID, func(a *Actor) error { return a.Accept(ctx, ch, clientID) })
}

func (r *Registry) HandleMessage(ctx context.Context, sessionID string, ch Channel, data []byte) error {
	return r.withActor(ctx, sessionID, func(a *Actor) error { return a.HandleMessage(ctx, ch, data) })
}

func (r *Registry) HandleClose(ctx context.Context, sessionID string, ch Channel) error {
	return r.withActor(ctx, sessionID, func(a *Actor) error { return a.HandleClose(ctx, ch) })
}

func (r *Registry) HandleError(ctx context.Context, sessionID string, ch Channel, cause error) error {
	return r.withActor(ctx, sessionID, func(a *Actor) error { return a.HandleError(ctx, ch, cause) })
}

// withActor retries on a fresh actor when the one it got was evicted mid-call.
func (r *Registry) withActor(ctx context.Context, sessionID string, fn func(*Actor) error) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrShuttingDown
	}
	var err error
	for i := 0; i < maxStoppedRetries; i++ {
		err = fn(r.Actor(ctx, sessionID))
		if !errors.Is(err, errActorStopped) {
			return err
		}
	}
	return fmt.Errorf("session %s: %w", sessionID, err)
}

// Evict stops the actor for sessionID and waits for its archive writes. The
// actor drains outside the registry lock.
func (r *Registry) Evict(sessionID string) bool {
	r.mu.Lock()
	a, ok := r.actors[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.actors, sessionID)
	done := make(chan struct{})
	r.draining[sessionID] = done
	r.mu.Unlock()

	a.halt()

	r.mu.Lock()
	if r.draining[sessionID] == done {
		delete(r.draining, sessionID)
	}
	if _, live := r.actors[sessionID]; !live {
		if t, ok := r.tables[sessionID]; ok && t.Len() == 0 {
			delete(r.tables, sessionID)
		}
	}
	r.mu.Unlock()
	close(done)

	a.Flush()
	return true
}

// Sweep evicts actors idle for longer than the TTL and returns their ids.
func (r *Registry) Sweep(now time.Time) []string {
	if r.idleTTL <= 0 {
		return nil
	}
	r.mu.Lock()
	idle := make([]string, 0)
	for id, a := range r.actors {
		if now.Sub(a.idleSince()) > r.idleTTL {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	evicted := make([]string, 0, len(idle))
	for _, id := range idle {
		if r.Evict(id) {
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// RunJanitor sweeps on every tick until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || r.idleTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ids := r.Sweep(r.deps.Now()); len(ids) > 0 {
				hlog.CtxInfof(ctx, "evicted %d idle session actor(s)", len(ids))
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Shutdown stops every actor, flushes pending archive writes and closes all
// channels still open.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	actors := r.actors
	tables := r.tables
	r.actors = map[string]*Actor{}
	r.tables = map[string]*ChannelTable{}
	r.mu.Unlock()

	var result *multierror.Error
	for _, a := range actors {
		a.halt()
	}
	for id, t := range tables {
		for ch := range t.Snapshot() {
			if err := ch.Close(CloseGoingAway, "server shutting down"); err != nil {
				result = multierror.Append(result, fmt.Errorf("close channel in session %s: %w", id, err))
			}
		}
	}

	done := make(chan struct{})
	go func() {
		for _, a := range actors {
			a.Flush()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("flush archives: %w", ctx.Err()))
	}
	return result.ErrorOrNil()
}
