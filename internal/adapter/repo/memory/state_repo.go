package memory

import (
	"context"

	"animstream/internal/app/ports"
)

type StateRepo struct {
	store *Store
}

func NewStateRepo(store *Store) StateRepo {
	return StateRepo{store: store}
}

func (r StateRepo) Load(_ context.Context, sessionID, key string) ([]byte, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	v, ok := r.store.state[stateKey(sessionID, key)]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (r StateRepo) Save(_ context.Context, sessionID, key string, value []byte) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.state[stateKey(sessionID, key)] = append([]byte(nil), value...)
	return nil
}
