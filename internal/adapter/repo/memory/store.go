package memory

import (
	"sync"
)

type Store struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	state    map[string][]byte
	archives map[string]map[string][]byte
}

func NewStore() *Store {
	return &Store{
		state:    make(map[string][]byte),
		archives: make(map[string]map[string][]byte),
	}
}

func stateKey(sessionID, key string) string {
	return sessionID + "::" + key
}
