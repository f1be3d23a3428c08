package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"animstream/internal/app/ports"
	"animstream/internal/domain/animation"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Close codes used when the server ends a channel.
const (
	CloseGoingAway     = 1001
	CloseInternalError = 1011
)

// Channel is one open client connection. Send must be safe to call from the
// actor while the transport's read loop runs concurrently.
type Channel interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

// ChannelTable records the client id each open channel was tagged with. It
// outlives actors so a restarted actor can reattach live channels.
type ChannelTable struct {
	mu   sync.Mutex
	tags map[Channel]string
}

func NewChannelTable() *ChannelTable {
	return &ChannelTable{tags: map[Channel]string{}}
}

func (t *ChannelTable) Tag(ch Channel, clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tags[ch] = clientID
}

func (t *ChannelTable) Untag(ch Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tags, ch)
}

func (t *ChannelTable) Snapshot() map[Channel]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Channel]string, len(t.tags))
	for ch, id := range t.tags {
		out[ch] = id
	}
	return out
}

func (t *ChannelTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tags)
}

type outbound struct {
	data    []byte
	to      Channel
	exclude Channel
}

// broadcast queues a frame for every registered channel except exclude.
func (a *Actor) broadcast(t MessageType, payload any, exclude Channel) {
	data, err := encodeFrame(t, a.id, payload, a.nowMillis())
	if err != nil {
		hlog.Errorf("session %s: %v", a.id, err)
		return
	}
	a.outbox = append(a.outbox, outbound{data: data, exclude: exclude})
}

func (a *Actor) sendTo(ch Channel, t MessageType, payload any) {
	if ch == nil {
		return
	}
	data, err := encodeFrame(t, a.id, payload, a.nowMillis())
	if err != nil {
		hlog.Errorf("session %s: %v", a.id, err)
		return
	}
	a.outbox = append(a.outbox, outbound{data: data, to: ch})
}

func (a *Actor) resetOutbox() {
	a.outbox = a.outbox[:0]
}

// deliver sends queued frames in order. A channel whose send fails is dropped
// from the registry; delivery to the others continues.
func (a *Actor) deliver(ctx context.Context) {
	for _, msg := range a.outbox {
		if msg.to != nil {
			a.sendOrDrop(ctx, msg.to, msg.data)
			continue
		}
		for _, ch := range a.orderedChannels() {
			if ch == msg.exclude {
				continue
			}
			a.sendOrDrop(ctx, ch, msg.data)
		}
	}
}

func (a *Actor) sendOrDrop(ctx context.Context, ch Channel, data []byte) {
	if err := ch.Send(data); err != nil {
		clientID, known := a.clients[ch]
		if !known {
			return
		}
		hlog.CtxWarnf(ctx, "session %s: dropping client %s after send failure: %v", a.id, clientID, err)
		delete(a.clients, ch)
		a.host.Untag(ch)
		a.deps.Metrics.RecordBroadcastFailure()
		a.deps.Metrics.RecordConnection(false)
		_ = ch.Close(CloseInternalError, "send failed")
	}
}

// orderedChannels returns channels sorted by client id so delivery order is stable.
func (a *Actor) orderedChannels() []Channel {
	chans := make([]Channel, 0, len(a.clients))
	for ch := range a.clients {
		chans = append(chans, ch)
	}
	sort.Slice(chans, func(i, j int) bool { return a.clients[chans[i]] < a.clients[chans[j]] })
	return chans
}

func (a *Actor) clientIDs() []string {
	ids := make([]string, 0, len(a.clients))
	for _, id := range a.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Accept registers a freshly upgraded channel under clientID.
func (a *Actor) Accept(ctx context.Context, ch Channel, clientID string) error {
	ctx, span := a.deps.Tracer.Start(ctx, "session.accept", trace.WithAttributes(sessionAttr(a.id), attribute.String("client.id", clientID)))
	defer span.End()
	release, err := a.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	a.touchUsage()

	return a.exec(ctx, func() error {
		a.host.Tag(ch, clientID)
		a.clients[ch] = clientID
		a.deps.Metrics.RecordConnection(true)

		if a.session.Status == animation.StatusCreated {
			a.session.Status = animation.StatusActive
			a.session.Touch(a.nowMillis())
			a.markDirty(ports.StateKeySession)
		}
		a.record(ctx, LogClientConnected, fmt.Sprintf("Client %s connected", clientID), nil)

		a.sendTo(ch, MessageSessionStatus, a.state())
		a.broadcast(MessageConnect, clientPayload{ClientID: clientID}, ch)
		return nil
	})
}

// HandleMessage processes one inbound frame. Failures are reported to the
// sender only, as an error frame.
func (a *Actor) HandleMessage(ctx context.Context, ch Channel, data []byte) error {
	ctx, span := a.deps.Tracer.Start(ctx, "session.message", trace.WithAttributes(sessionAttr(a.id)))
	defer span.End()
	release, err := a.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	a.touchUsage()

	err = a.exec(ctx, func() error {
		clientID, ok := a.clients[ch]
		if !ok {
			return ErrUnknownClient
		}
		frame, err := decodeFrame(data)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("message.type", string(frame.Type)))

		switch frame.Type {
		case MessageAnimationCommand:
			var p CommandPayload
			if err := decodePayload(frame.Payload, &p); err != nil {
				return err
			}
			return a.executeCommand(ctx, clientID, p)
		case MessageCharacterUpdate:
			var p animation.EntityPatch
			if err := decodePayload(frame.Payload, &p); err != nil {
				return err
			}
			_, err := a.updateEntity(ctx, p.ID, p)
			return err
		case MessagePing:
			a.sendTo(ch, MessagePong, nil)
			return nil
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedMessage, frame.Type)
		}
	})
	if err == nil {
		return nil
	}

	span.RecordError(err)
	a.deps.Metrics.RecordRejected(rejectReason(err))
	a.execBestEffort(ctx, func() {
		a.recordError(ctx, LogWebSocketError, err, nil)
		a.sendTo(ch, MessageError, errorPayload{Error: err.Error()})
	})
	return nil
}

// HandleClose unregisters ch. The last client leaving an active session pauses it.
func (a *Actor) HandleClose(ctx context.Context, ch Channel) error {
	release, err := a.enter(ctx)
	if err != nil {
		a.host.Untag(ch)
		return err
	}
	defer release()
	a.touchUsage()
	return a.disconnect(ctx, ch)
}

func (a *Actor) disconnect(ctx context.Context, ch Channel) error {
	return a.exec(ctx, func() error {
		a.host.Untag(ch)
		clientID, ok := a.clients[ch]
		if !ok {
			return nil
		}
		a.record(ctx, LogClientDisconnected, fmt.Sprintf("Client %s disconnected", clientID), nil)
		delete(a.clients, ch)
		a.deps.Metrics.RecordConnection(false)
		a.broadcast(MessageDisconnect, clientPayload{ClientID: clientID}, nil)

		if len(a.clients) == 0 && a.session.Status == animation.StatusActive {
			a.session.Status = animation.StatusPaused
			a.session.Touch(a.nowMillis())
			a.markDirty(ports.StateKeySession)
		}
		return nil
	})
}

// HandleError logs a transport failure and then treats it as a disconnect.
func (a *Actor) HandleError(ctx context.Context, ch Channel, cause error) error {
	release, err := a.enter(ctx)
	if err != nil {
		a.host.Untag(ch)
		return err
	}
	defer release()
	a.touchUsage()
	a.execBestEffort(ctx, func() {
		a.recordError(ctx, LogWebSocketConnectionError, cause, map[string]any{"clientId": a.clients[ch]})
	})
	return a.disconnect(ctx, ch)
}

func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrInvalidRequest, err)
	}
	return nil
}
