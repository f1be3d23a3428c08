package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"animstream/internal/app/ports"
	"animstream/internal/domain/animation"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

// Log entry types.
const (
	LogClientConnected          = "CLIENT_CONNECTED"
	LogClientDisconnected       = "CLIENT_DISCONNECTED"
	LogCommandExecuted          = "COMMAND_EXECUTED"
	LogEntityAdded              = "CHARACTER_ADDED"
	LogEntityUpdated            = "CHARACTER_UPDATED"
	LogEntityRemoved            = "CHARACTER_REMOVED"
	LogStatusChanged            = "STATUS_CHANGED"
	LogWebSocketError           = "WEBSOCKET_ERROR"
	LogWebSocketConnectionError = "WEBSOCKET_CONNECTION_ERROR"
	LogAPIError                 = "API_ERROR"
)

const archiveWriteTimeout = 5 * time.Second

func commandPrefix(sessionID string) string { return "command:" + sessionID + ":" }
func logPrefix(sessionID string) string     { return "log:" + sessionID + ":" }

// CommandArchiveKey orders lexically by time within a session. The command
// id suffix keeps two commands on one entity in the same millisecond apart.
func CommandArchiveKey(sessionID string, c animation.Command) string {
	return fmt.Sprintf("%s%013d:%s:%s", commandPrefix(sessionID), c.Timestamp, c.EntityID, c.ID)
}

func LogArchiveKey(sessionID string, e animation.LogEntry) string {
	return fmt.Sprintf("%s%013d:%s", logPrefix(sessionID), e.Timestamp, e.ID)
}

// record appends a log entry to the ring and hands it to the archive.
func (a *Actor) record(ctx context.Context, typ, message string, meta map[string]any) animation.LogEntry {
	entry := animation.LogEntry{
		ID:        a.deps.NewID(),
		SessionID: a.id,
		Type:      typ,
		Message:   message,
		Timestamp: a.nowMillis(),
		Metadata:  meta,
	}
	a.logs.Push(entry)
	a.markDirty(ports.StateKeyLogs)
	a.archive.write(ctx, a.deps.LogArchive, LogArchiveKey(a.id, entry), entry)
	return entry
}

func (a *Actor) recordError(ctx context.Context, typ string, err error, meta map[string]any) {
	m := map[string]any{"error": err.Error()}
	for k, v := range meta {
		m[k] = v
	}
	a.record(ctx, typ, err.Error(), m)
}

func (a *Actor) pushCommand(ctx context.Context, c animation.Command) {
	a.history.Push(c)
	a.markDirty(ports.StateKeyCommands)
	a.archive.write(ctx, a.deps.CommandArchive, CommandArchiveKey(a.id, c), c)
}

// archiver performs fire-and-forget archive writes. Failures go to onError
// and never reach the caller.
type archiver struct {
	wg      sync.WaitGroup
	metrics ports.SessionMetrics
	onError func(key string, err error)
}

func newArchiver(m ports.SessionMetrics, onError func(string, error)) *archiver {
	if onError == nil {
		onError = func(key string, err error) {
			hlog.Errorf("archive write %s: %v", key, err)
		}
	}
	return &archiver{metrics: m, onError: onError}
}

func (w *archiver) write(ctx context.Context, store ports.ArchiveStore, key string, v any) {
	if store == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.fail(key, err)
		return
	}
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, archiveWriteTimeout)
		defer cancel()
		if err := store.Append(ctx, key, b); err != nil {
			w.fail(key, err)
		}
	}()
}

func (w *archiver) fail(key string, err error) {
	w.metrics.RecordArchiveFailure()
	w.onError(key, err)
}

// Wait blocks until every pending write has finished.
func (w *archiver) Wait() {
	w.wg.Wait()
}

// Flush waits for pending archive writes of this actor.
func (a *Actor) Flush() {
	a.archive.Wait()
}

func (a *Actor) scanLogs(ctx context.Context, f animation.LogFilter) ([]animation.LogEntry, error) {
	entries, err := scanArchive[animation.LogEntry](ctx, a.deps.LogArchive, logPrefix(a.id), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve archived logs: %v", ErrArchiveRead, err)
	}
	animation.SortLogsDesc(entries)
	return animation.SelectLogs(entries, f), nil
}

func (a *Actor) scanCommands(ctx context.Context, f animation.CommandFilter) ([]animation.Command, error) {
	cmds, err := scanArchive[animation.Command](ctx, a.deps.CommandArchive, commandPrefix(a.id), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve archived history: %v", ErrArchiveRead, err)
	}
	animation.SortCommandsDesc(cmds)
	return animation.SelectCommands(cmds, f), nil
}

// scanArchive fetches twice the limit so post-filtering still has enough rows.
func scanArchive[T any](ctx context.Context, store ports.ArchiveStore, prefix string, limit int) ([]T, error) {
	if store == nil {
		return nil, fmt.Errorf("archive store not configured")
	}
	if limit <= 0 {
		limit = animation.DefaultQueryLimit
	}
	recs, err := store.Scan(ctx, prefix, limit*2)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			hlog.CtxWarnf(ctx, "skip undecodable archive entry %s: %v", rec.Key, err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
