package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"animstream/internal/app/ports"
	"animstream/internal/domain/animation"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "animstream/session"

// Deps are the collaborators shared by every actor a Registry hosts.
type Deps struct {
	State          ports.StateRepository
	Tx             ports.TxManager
	CommandArchive ports.ArchiveStore
	LogArchive     ports.ArchiveStore
	Metrics        ports.SessionMetrics
	Tracer         trace.Tracer
	Now            func() time.Time
	NewID          func() string
	// OnArchiveError receives archive write failures. Defaults to an hlog error line.
	OnArchiveError func(key string, err error)
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	return d
}

// Actor owns one session: its entities, connections, command history and
// logs. Every operation holds the actor's turn while it runs; turns are handed
// out in arrival order and bootstrap holds the first one.
type Actor struct {
	id      string
	deps    Deps
	host    *ChannelTable
	archive *archiver

	ready   chan struct{}
	bootErr error
	// after is closed once the previous actor for this session has stopped.
	after <-chan struct{}

	turn     *semaphore.Weighted
	stopped  bool
	session  animation.Session
	entities map[string]animation.Entity
	history  *animation.Ring[animation.Command]
	logs     *animation.Ring[animation.LogEntry]
	clients  map[Channel]string
	dirty    map[string]bool
	outbox   []outbound

	lastUsed atomic.Int64
}

// NewActor starts the asynchronous bootstrap. Every entry point queues behind it.
func NewActor(ctx context.Context, sessionID string, deps Deps, host *ChannelTable) *Actor {
	return startActor(ctx, sessionID, deps, host, nil)
}

func startActor(ctx context.Context, sessionID string, deps Deps, host *ChannelTable, after <-chan struct{}) *Actor {
	deps = deps.withDefaults()
	if host == nil {
		host = NewChannelTable()
	}
	a := &Actor{
		id:       sessionID,
		deps:     deps,
		host:     host,
		archive:  newArchiver(deps.Metrics, deps.OnArchiveError),
		ready:    make(chan struct{}),
		after:    after,
		turn:     semaphore.NewWeighted(1),
		entities: map[string]animation.Entity{},
		history:  animation.NewRing[animation.Command](animation.HistoryCap, nil),
		logs:     animation.NewRing[animation.LogEntry](animation.HistoryCap, nil),
		clients:  map[Channel]string{},
		dirty:    map[string]bool{},
	}
	a.lastUsed.Store(deps.Now().UnixNano())
	a.turn.TryAcquire(1)
	go a.bootstrap(context.WithoutCancel(ctx))
	return a
}

func (a *Actor) ID() string { return a.id }

func (a *Actor) bootstrap(ctx context.Context) {
	defer a.turn.Release(1)
	defer close(a.ready)
	if a.after != nil {
		<-a.after
	}
	ctx, span := a.deps.Tracer.Start(ctx, "session.bootstrap", trace.WithAttributes(sessionAttr(a.id)))
	defer span.End()

	if err := a.load(ctx); err != nil {
		span.RecordError(err)
		hlog.CtxErrorf(ctx, "session %s bootstrap: %v", a.id, err)
		a.bootErr = fmt.Errorf("%w: %v", ErrBootstrap, err)
		return
	}

	for ch, clientID := range a.host.Snapshot() {
		a.clients[ch] = clientID
	}
	if n := len(a.clients); n > 0 {
		hlog.CtxInfof(ctx, "session %s reattached %d channel(s)", a.id, n)
	}
}

func (a *Actor) load(ctx context.Context) error {
	fresh := false
	found, err := a.loadKey(ctx, ports.StateKeySession, &a.session)
	if err != nil {
		return err
	}
	if !found {
		a.session = animation.NewSession(a.id, a.nowMillis())
		fresh = true
	}
	if a.session.Metadata == nil {
		a.session.Metadata = map[string]any{}
	}

	if _, err := a.loadKey(ctx, ports.StateKeyEntities, &a.entities); err != nil {
		return err
	}
	if a.entities == nil {
		a.entities = map[string]animation.Entity{}
	}

	var cmds []animation.Command
	if _, err := a.loadKey(ctx, ports.StateKeyCommands, &cmds); err != nil {
		return err
	}
	a.history = animation.NewRing(animation.HistoryCap, cmds)

	var logs []animation.LogEntry
	if _, err := a.loadKey(ctx, ports.StateKeyLogs, &logs); err != nil {
		return err
	}
	a.logs = animation.NewRing(animation.HistoryCap, logs)

	a.session.SyncEntities(a.entities)
	if fresh {
		a.markDirty(ports.StateKeySession)
		return a.flush(ctx)
	}
	return nil
}

func (a *Actor) loadKey(ctx context.Context, key string, out any) (bool, error) {
	raw, err := a.deps.State.Load(ctx, a.id, key)
	if errors.Is(err, ports.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// enter waits for the actor's turn and returns the func that hands it on.
func (a *Actor) enter(ctx context.Context) (func(), error) {
	if err := a.turn.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if a.bootErr != nil {
		a.turn.Release(1)
		return nil, a.bootErr
	}
	if a.stopped {
		a.turn.Release(1)
		return nil, errActorStopped
	}
	return func() { a.turn.Release(1) }, nil
}

// failed reports a finished bootstrap that returned an error.
func (a *Actor) failed() bool {
	select {
	case <-a.ready:
		return a.bootErr != nil
	default:
		return false
	}
}

func (a *Actor) touchUsage() {
	a.lastUsed.Store(a.deps.Now().UnixNano())
}

func (a *Actor) idleSince() time.Time {
	return time.Unix(0, a.lastUsed.Load())
}

// exec runs fn as the single writer, persists what it marked dirty and only
// then delivers queued frames. Nothing is delivered if fn or the save fails.
// The caller holds the turn.
func (a *Actor) exec(ctx context.Context, fn func() error) error {
	defer a.resetOutbox()
	if err := fn(); err != nil {
		return err
	}
	if err := a.flush(ctx); err != nil {
		return err
	}
	a.deliver(ctx)
	return nil
}

// execBestEffort is exec for error reporting paths: a failed save is logged
// and queued frames are delivered regardless.
func (a *Actor) execBestEffort(ctx context.Context, fn func()) {
	defer a.resetOutbox()
	fn()
	if err := a.flush(ctx); err != nil {
		hlog.CtxErrorf(ctx, "session %s save after error: %v", a.id, err)
	}
	a.deliver(ctx)
}

// halt waits for the turn holder and everyone queued before it, then rejects
// later arrivals.
func (a *Actor) halt() {
	_ = a.turn.Acquire(context.Background(), 1)
	a.stopped = true
	a.turn.Release(1)
}

func (a *Actor) markDirty(keys ...string) {
	for _, k := range keys {
		a.dirty[k] = true
	}
}

// mutated records a change to the session or entity map.
func (a *Actor) mutated() {
	a.session.SyncEntities(a.entities)
	a.session.Touch(a.nowMillis())
	a.markDirty(ports.StateKeySession, ports.StateKeyEntities)
}

func (a *Actor) flush(ctx context.Context) error {
	if len(a.dirty) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.dirty))
	for k := range a.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string][]byte, len(keys))
	for _, k := range keys {
		b, err := json.Marshal(a.snapshotOf(k))
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		values[k] = b
	}

	err := a.deps.Tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, k := range keys {
			if err := a.deps.State.Save(ctx, a.id, k, values[k]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist session %s: %w", a.id, err)
	}
	clear(a.dirty)
	return nil
}

func (a *Actor) snapshotOf(key string) any {
	switch key {
	case ports.StateKeySession:
		return a.session
	case ports.StateKeyEntities:
		return a.entities
	case ports.StateKeyCommands:
		return a.history.Items()
	case ports.StateKeyLogs:
		return a.logs.Items()
	default:
		return nil
	}
}

func (a *Actor) state() animation.SessionState {
	return animation.SessionState{
		Session:        a.session.Clone(),
		CommandHistory: a.history.Items(),
		Clients:        a.clientIDs(),
		Logs:           a.logs.Items(),
	}
}

func (a *Actor) sortedEntities() []animation.Entity {
	out := make([]animation.Entity, 0, len(a.entities))
	for _, e := range a.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Actor) nowMillis() int64 {
	return a.deps.Now().UnixMilli()
}

type nopMetrics struct{}

func (nopMetrics) RecordCommand(string) {}
func (nopMetrics) RecordRejected(string) {}
func (nopMetrics) RecordConnection(bool) {}
func (nopMetrics) RecordBroadcastFailure() {}
func (nopMetrics) RecordArchiveFailure() {}
