package ports

import "context"

// Keys under which a session snapshot is persisted.
const (
	StateKeySession  = "session"
	StateKeyEntities = "entities"
	StateKeyCommands = "commandHistory"
	StateKeyLogs     = "logs"
)

// StateRepository stores the latest snapshot of one session as opaque values per key.
type StateRepository interface {
	Load(ctx context.Context, sessionID, key string) ([]byte, error)
	Save(ctx context.Context, sessionID, key string, value []byte) error
}

type ArchiveRecord struct {
	Key   string
	Value []byte
}

// ArchiveStore is an append-only key space scanned by prefix, newest key first.
type ArchiveStore interface {
	Append(ctx context.Context, key string, value []byte) error
	Scan(ctx context.Context, prefix string, limit int) ([]ArchiveRecord, error)
}

type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
