package memory

import (
	"context"
	"sort"
	"strings"

	"animstream/internal/app/ports"
)

type ArchiveStore struct {
	store     *Store
	namespace string
}

func NewArchiveStore(store *Store, namespace string) ArchiveStore {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.archives[namespace]; !ok {
		store.archives[namespace] = make(map[string][]byte)
	}
	return ArchiveStore{store: store, namespace: namespace}
}

func (a ArchiveStore) Append(_ context.Context, key string, value []byte) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	ns := a.store.archives[a.namespace]
	if _, exists := ns[key]; exists {
		return ports.ErrConflict
	}
	ns[key] = append([]byte(nil), value...)
	return nil
}

func (a ArchiveStore) Scan(_ context.Context, prefix string, limit int) ([]ports.ArchiveRecord, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	keys := make([]string, 0)
	for k := range a.store.archives[a.namespace] {
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
		out = append(out, ports.ArchiveRecord{Key: k, Value: append([]byte(nil), a.store.archives[a.namespace][k]...)})
	}
	return out, nil
}
