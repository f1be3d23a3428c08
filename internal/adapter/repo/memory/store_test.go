package memory

import (
	"context"
	"errors"
	"testing"

	"animstream/internal/app/ports"
)

func TestStateRepo_LoadMissing(t *testing.T) {
	repo := NewStateRepo(NewStore())
	if _, err := repo.Load(context.Background(), "s1", ports.StateKeySession); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStateRepo_SaveLoadIsolatedBySession(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewStateRepo(store)
	tx := NewTxManager(store)

	err := tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := repo.Save(ctx, "s1", ports.StateKeySession, []byte(`{"id":"s1"}`)); err != nil {
			return err
		}
		return repo.Save(ctx, "s2", ports.StateKeySession, []byte(`{"id":"s2"}`))
	})
	if err != nil {
		t.Fatalf("RunInTx error: %v", err)
	}

	got, err := repo.Load(ctx, "s1", ports.StateKeySession)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if string(got) != `{"id":"s1"}` {
		t.Fatalf("got=%s", got)
	}
}

func TestArchiveStore_ScanNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	logs := NewArchiveStore(store, "logs")
	history := NewArchiveStore(store, "history")

	for _, k := range []string{"log:s1:0000000000001:a", "log:s1:0000000000003:c", "log:s1:0000000000002:b", "log:s2:0000000000009:z"} {
		if err := logs.Append(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Append %s: %v", k, err)
		}
	}

	recs, err := logs.Scan(ctx, "log:s1:", 2)
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(recs) != 2 || recs[0].Key != "log:s1:0000000000003:c" || recs[1].Key != "log:s1:0000000000002:b" {
		t.Fatalf("unexpected scan: %+v", recs)
	}

	if recs, _ := history.Scan(ctx, "log:", 10); len(recs) != 0 {
		t.Fatalf("namespaces must be isolated, got %+v", recs)
	}
}

func TestArchiveStore_AppendOnly(t *testing.T) {
	ctx := context.Background()
	a := NewArchiveStore(NewStore(), "logs")
	if err := a.Append(ctx, "k", []byte("1")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := a.Append(ctx, "k", []byte("2")); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
