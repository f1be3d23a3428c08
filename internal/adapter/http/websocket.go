package httpadapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"animstream/internal/app/session"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hertz-contrib/websocket"
)

const channelWriteTimeout = 10 * time.Second

var errChannelClosed = errors.New("channel closed")

var upgrader = websocket.HertzUpgrader{
	CheckOrigin: func(*app.RequestContext) bool { return true },
}

// upgrade completes the websocket handshake and pumps the connection until it closes.
func (h Handler) upgrade(c context.Context, ctx *app.RequestContext, sessionID, clientID string) {
	ctx.Response.Header.Set(session.ClientIDHeader, clientID)
	base := context.WithoutCancel(c)
	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		h.serveChannel(base, sessionID, clientID, conn, newWSChannel(conn))
	})
	if err != nil {
		hlog.CtxWarnf(c, "session %s: websocket upgrade failed: %v", sessionID, err)
	}
}

type frameReader interface {
	ReadMessage() (int, []byte, error)
}

func (h Handler) serveChannel(ctx context.Context, sessionID, clientID string, conn frameReader, ch *wsChannel) {
	defer ch.release()

	if err := h.Sessions.Accept(ctx, sessionID, ch, clientID); err != nil {
		hlog.CtxErrorf(ctx, "session %s: accept client %s: %v", sessionID, clientID, err)
		_ = ch.Close(session.CloseInternalError, "Session initialization error")
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.endChannel(ctx, sessionID, ch, err)
			return
		}
		if err := h.Sessions.HandleMessage(ctx, sessionID, ch, data); err != nil {
			hlog.CtxWarnf(ctx, "session %s: message from %s: %v", sessionID, clientID, err)
			if errors.Is(err, session.ErrShuttingDown) {
				_ = ch.Close(session.CloseGoingAway, "server shutting down")
				return
			}
		}
	}
}

func (h Handler) endChannel(ctx context.Context, sessionID string, ch *wsChannel, readErr error) {
	var err error
	if ch.isClosed() || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		err = h.Sessions.HandleClose(ctx, sessionID, ch)
	} else {
		err = h.Sessions.HandleError(ctx, sessionID, ch, readErr)
	}
	if err != nil {
		hlog.CtxWarnf(ctx, "session %s: close channel: %v", sessionID, err)
	}
}

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsChannel serializes writes to one websocket connection.
type wsChannel struct {
	conn   wsConn
	mu     sync.Mutex
	closed atomic.Bool
}

func newWSChannel(conn wsConn) *wsChannel {
	return &wsChannel{conn: conn}
}

func (w *wsChannel) Send(data []byte) error {
	if w.closed.Load() {
		return errChannelClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(channelWriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsChannel) Close(code int, reason string) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(channelWriteTimeout))
	return w.conn.Close()
}

func (w *wsChannel) isClosed() bool {
	return w.closed.Load()
}

// release closes the underlying connection once the read loop has exited.
func (w *wsChannel) release() {
	if w.closed.CompareAndSwap(false, true) {
		w.mu.Lock()
		_ = w.conn.Close()
		w.mu.Unlock()
	}
}
