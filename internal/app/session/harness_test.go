package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"animstream/internal/app/ports"
	"animstream/internal/domain/animation"
)

type fakeStateRepo struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   int
	failErr error
	// gates block Load for a session until the channel is closed.
	gates map[string]chan struct{}
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{data: map[string][]byte{}}
}

func (r *fakeStateRepo) Load(_ context.Context, sessionID, key string) ([]byte, error) {
	r.mu.Lock()
	gate := r.gates[sessionID]
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[sessionID+"/"+key]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return v, nil
}

func (r *fakeStateRepo) Save(_ context.Context, sessionID, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.saves++
	r.data[sessionID+"/"+key] = value
	return nil
}

// gate makes Load block for sessionID until the returned func is called.
func (r *fakeStateRepo) gate(sessionID string) func() {
	ch := make(chan struct{})
	r.mu.Lock()
	if r.gates == nil {
		r.gates = map[string]chan struct{}{}
	}
	r.gates[sessionID] = ch
	r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (r *fakeStateRepo) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *fakeStateRepo) decode(t *testing.T, sessionID, key string, out any) {
	t.Helper()
	r.mu.Lock()
	raw, ok := r.data[sessionID+"/"+key]
	r.mu.Unlock()
	if !ok {
		t.Fatalf("no persisted value for %s/%s", sessionID, key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode persisted %s: %v", key, err)
	}
}

type fakeTx struct{}

func (fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeArchive struct {
	mu      sync.Mutex
	data    map[string][]byte
	failErr error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{data: map[string][]byte{}}
}

func (a *fakeArchive) Append(_ context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	if _, ok := a.data[key]; ok {
		return ports.ErrConflict
	}
	a.data[key] = value
	return nil
}

func (a *fakeArchive) Scan(_ context.Context, prefix string, limit int) ([]ports.ArchiveRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return nil, a.failErr
	}
	keys := make([]string, 0)
	for k := range a.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]ports.ArchiveRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, ports.ArchiveRecord{Key: k, Value: a.data[k]})
	}
	return out, nil
}

func (a *fakeArchive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

type fakeChannel struct {
	mu      sync.Mutex
	frames  []Frame
	sendErr error
	closed  bool
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("bad frame: %w", err)
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeChannel) Close(int, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) all() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func (c *fakeChannel) ofType(t MessageType) []Frame {
	out := make([]Frame, 0)
	for _, f := range c.all() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeChannel) last(t *testing.T, typ MessageType) Frame {
	t.Helper()
	frames := c.ofType(typ)
	if len(frames) == 0 {
		t.Fatalf("no %s frame received; got %+v", typ, c.all())
	}
	return frames[len(frames)-1]
}

type fakeMetrics struct {
	commands         atomic.Int64
	rejected         atomic.Int64
	broadcastFailure atomic.Int64
	archiveFailure   atomic.Int64
	onRejected       func(reason string)
}

func (m *fakeMetrics) RecordCommand(string) { m.commands.Add(1) }
func (m *fakeMetrics) RecordRejected(reason string) {
	m.rejected.Add(1)
	if m.onRejected != nil {
		m.onRejected(reason)
	}
}
func (m *fakeMetrics) RecordConnection(bool) {}
func (m *fakeMetrics) RecordBroadcastFailure() { m.broadcastFailure.Add(1) }
func (m *fakeMetrics) RecordArchiveFailure() { m.archiveFailure.Add(1) }

type env struct {
	state    *fakeStateRepo
	commands *fakeArchive
	logs     *fakeArchive
	metrics  *fakeMetrics
	deps     Deps
}

func newEnv() *env {
	var clock atomic.Int64
	clock.Store(1_700_000_000_000)
	var seq atomic.Int64
	e := &env{
		state:    newFakeStateRepo(),
		commands: newFakeArchive(),
		logs:     newFakeArchive(),
		metrics:  &fakeMetrics{},
	}
	e.deps = Deps{
		State:          e.state,
		Tx:             fakeTx{},
		CommandArchive: e.commands,
		LogArchive:     e.logs,
		Metrics:        e.metrics,
		Now:            func() time.Time { return time.UnixMilli(clock.Add(1)) },
		NewID:          func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) },
	}
	return e
}

const testSessionID = "5f0c7c52-3d2e-4a8b-9a51-1d1f0e6c2b10"

func (e *env) actor(t *testing.T) *Actor {
	t.Helper()
	a := NewActor(context.Background(), testSessionID, e.deps, nil)
	if err := a.awaitReady(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return a
}

func (a *Actor) awaitReady(ctx context.Context) error {
	select {
	case <-a.ready:
		return a.bootErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func do(t *testing.T, a *Actor, method, path string, body any) Response {
	t.Helper()
	resp, err := a.Fetch(context.Background(), request(t, method, path, body))
	if err != nil {
		t.Fatalf("%s %s error: %v", method, path, err)
	}
	return resp
}

func request(t *testing.T, method, path string, body any) Request {
	t.Helper()
	req := Request{Method: method, Path: path, Header: http.Header{}}
	if i := strings.Index(path, "?"); i >= 0 {
		req.Path = path[:i]
		req.Query = parseQuery(t, path[i+1:])
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		req.Body = b
	}
	return req
}

func parseQuery(t *testing.T, raw string) map[string][]string {
	t.Helper()
	out := map[string][]string{}
	for _, kv := range strings.Split(raw, "&") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = append(out[parts[0]], parts[1])
		}
	}
	return out
}

func connect(t *testing.T, a *Actor, clientID string) *fakeChannel {
	t.Helper()
	ch := &fakeChannel{}
	if err := a.Accept(context.Background(), ch, clientID); err != nil {
		t.Fatalf("accept %s: %v", clientID, err)
	}
	return ch
}

func send(t *testing.T, a *Actor, ch Channel, typ MessageType, payload any) {
	t.Helper()
	if err := a.HandleMessage(context.Background(), ch, frameBytes(t, typ, payload)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
}

func frameBytes(t *testing.T, typ MessageType, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Errorf("marshal payload: %v", err)
		return nil
	}
	data, _ := json.Marshal(Frame{Type: typ, Payload: raw, Timestamp: 1})
	return data
}

func moveCmd(id string, x float64) CommandPayload {
	return CommandPayload{CharacterID: id, Action: "move", Params: map[string]any{"position": map[string]any{"x": x}}}
}

func payloadAs[T any](t *testing.T, f Frame) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(f.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", f.Type, err)
	}
	return out
}

func bodyAs[T any](t *testing.T, resp Response) T {
	t.Helper()
	b, err := json.Marshal(resp.Body)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func addEntity(t *testing.T, a *Actor, id string) animation.Entity {
	t.Helper()
	resp := do(t, a, http.MethodPost, "/characters", map[string]any{"id": id})
	if resp.Status != http.StatusCreated {
		t.Fatalf("create status got=%d want=201", resp.Status)
	}
	return bodyAs[animation.Entity](t, resp)
}

var errBoom = errors.New("boom")
