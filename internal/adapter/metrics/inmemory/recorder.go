package inmemory

import "sync"

type Snapshot struct {
	CommandTotal      uint64            `json:"command_total"`
	CommandsByAction  map[string]uint64 `json:"commands_by_action"`
	RejectedTotal     uint64            `json:"rejected_total"`
	RejectedByReason  map[string]uint64 `json:"rejected_by_reason"`
	ConnectionsOpened uint64            `json:"connections_opened"`
	ConnectionsClosed uint64            `json:"connections_closed"`
	ConnectionsActive int64             `json:"connections_active"`
	BroadcastFailures uint64            `json:"broadcast_failures"`
	ArchiveFailures   uint64            `json:"archive_failures"`
}

type Recorder struct {
	mu        sync.Mutex
	byAction  map[string]uint64
	byReason  map[string]uint64
	opened    uint64
	closed    uint64
	broadcast uint64
	archive   uint64
}

func NewRecorder() *Recorder {
	return &Recorder{
		byAction: map[string]uint64{},
		byReason: map[string]uint64{},
	}
}

func (r *Recorder) RecordCommand(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAction[action]++
}

func (r *Recorder) RecordRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byReason[reason]++
}

func (r *Recorder) RecordConnection(open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if open {
		r.opened++
		return
	}
	r.closed++
}

func (r *Recorder) RecordBroadcastFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast++
}

func (r *Recorder) RecordArchiveFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archive++
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{
		CommandsByAction:  make(map[string]uint64, len(r.byAction)),
		RejectedByReason:  make(map[string]uint64, len(r.byReason)),
		ConnectionsOpened: r.opened,
		ConnectionsClosed: r.closed,
		ConnectionsActive: int64(r.opened) - int64(r.closed),
		BroadcastFailures: r.broadcast,
		ArchiveFailures:   r.archive,
	}
	for k, v := range r.byAction {
		out.CommandsByAction[k] = v
		out.CommandTotal += v
	}
	for k, v := range r.byReason {
		out.RejectedByReason[k] = v
		out.RejectedTotal += v
	}
	return out
}

func (r *Recorder) SnapshotAny() any {
	return r.Snapshot()
}
