package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"animstream/internal/app/session"
	"animstream/internal/domain/animation"

	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"
)

type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	controls  [][]byte
	closed    int
	writeErr  error
	deadlines int
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, data)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) frames(t *testing.T) []session.Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Frame, 0, len(c.writes))
	for _, w := range c.writes {
		var f session.Frame
		if err := json.Unmarshal(w, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		out = append(out, f)
	}
	return out
}

// scriptedReader yields the queued frames and then end.
type scriptedReader struct {
	frames [][]byte
	end    error
}

func (r *scriptedReader) ReadMessage() (int, []byte, error) {
	if len(r.frames) == 0 {
		return 0, nil, r.end
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return websocket.TextMessage, f, nil
}

func TestWSChannel_SendSetsDeadline(t *testing.T) {
	conn := &fakeConn{}
	ch := newWSChannel(conn)

	if err := ch.Send([]byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if conn.deadlines != 1 || len(conn.writes) != 1 {
		t.Fatalf("unexpected writes: deadlines=%d writes=%d", conn.deadlines, len(conn.writes))
	}
}

func TestWSChannel_CloseIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	ch := newWSChannel(conn)

	if err := ch.Close(session.CloseInternalError, "send failed"); err != nil {
		t.Fatalf("close error: %v", err)
	}
	_ = ch.Close(session.CloseInternalError, "again")
	ch.release()

	if conn.closed != 1 {
		t.Fatalf("close count mismatch: got=%d want=1", conn.closed)
	}
	if len(conn.controls) != 1 {
		t.Fatalf("expected one close frame, got %d", len(conn.controls))
	}
	if err := ch.Send([]byte("x")); !errors.Is(err, errChannelClosed) {
		t.Fatalf("expected errChannelClosed, got %v", err)
	}
}

func TestServeChannel_PingAndNormalClose(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	reader := &scriptedReader{
		frames: [][]byte{[]byte(`{"type":"ping","payload":null,"timestamp":1}`)},
		end:    &websocket.CloseError{Code: websocket.CloseNormalClosure},
	}

	env.handler.serveChannel(context.Background(), testSessionID, "client-1", reader, newWSChannel(conn))

	frames := conn.frames(t)
	if len(frames) != 2 {
		t.Fatalf("expected snapshot and pong, got %d frames", len(frames))
	}
	if frames[0].Type != session.MessageSessionStatus || frames[1].Type != session.MessagePong {
		t.Fatalf("unexpected frame order: %s, %s", frames[0].Type, frames[1].Type)
	}
	if conn.closed != 1 {
		t.Fatalf("connection not released: closed=%d", conn.closed)
	}

	status, body := env.do(consts.MethodGet, "/api/session/"+testSessionID+"/info", "")
	if status != consts.StatusOK {
		t.Fatalf("info status mismatch: got=%d", status)
	}
	if got := decodeTo[animation.Session](t, body).Status; got != animation.StatusPaused {
		t.Fatalf("status after last client left: got=%q want=%q", got, animation.StatusPaused)
	}
}

func TestServeChannel_TransportErrorIsLogged(t *testing.T) {
	env := newTestEnv(t)
	reader := &scriptedReader{end: errors.New("connection reset")}

	env.handler.serveChannel(context.Background(), testSessionID, "client-1", reader, newWSChannel(&fakeConn{}))

	status, body := env.do(consts.MethodGet, "/api/session/"+testSessionID+"/logs?type=WEBSOCKET_CONNECTION_ERROR", "")
	if status != consts.StatusOK {
		t.Fatalf("logs status mismatch: got=%d", status)
	}
	logs := decodeTo[[]animation.LogEntry](t, body)
	if len(logs) != 1 {
		t.Fatalf("expected 1 connection error log, got %d", len(logs))
	}
	if logs[0].Metadata["clientId"] != "client-1" {
		t.Fatalf("unexpected log metadata: %+v", logs[0].Metadata)
	}
}

func TestServeChannel_DroppedChannelClosesQuietly(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{writeErr: errors.New("broken pipe")}
	reader := &scriptedReader{end: errors.New("use of closed network connection")}

	env.handler.serveChannel(context.Background(), testSessionID, "client-1", reader, newWSChannel(conn))

	status, body := env.do(consts.MethodGet, "/api/session/"+testSessionID+"/logs?type=WEBSOCKET_CONNECTION_ERROR", "")
	if status != consts.StatusOK {
		t.Fatalf("logs status mismatch: got=%d", status)
	}
	if logs := decodeTo[[]animation.LogEntry](t, body); len(logs) != 0 {
		t.Fatalf("dropped channel should not log a transport error, got %d", len(logs))
	}
}
