package animation

import (
	"fmt"
	"sort"
)

func NewSession(id string, nowMillis int64) Session {
	return Session{
		ID:              id,
		Name:            fmt.Sprintf("Session %s", shortID(id, 8)),
		CreatedAt:       nowMillis,
		UpdatedAt:       nowMillis,
		Status:          StatusCreated,
		ActiveEntityIDs: []string{},
		Metadata:        map[string]any{},
	}
}

// Touch bumps UpdatedAt without ever moving it backwards.
func (s *Session) Touch(nowMillis int64) {
	if nowMillis > s.UpdatedAt {
		s.UpdatedAt = nowMillis
	}
}

// SyncEntities rebuilds ActiveEntityIDs from the entity map key set.
func (s *Session) SyncEntities(entities map[string]Entity) {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.ActiveEntityIDs = ids
}

func (s *Session) MergeMetadata(patch map[string]any) {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	for k, v := range patch {
		s.Metadata[k] = v
	}
}

func (s Session) Clone() Session {
	out := s
	out.ActiveEntityIDs = append([]string{}, s.ActiveEntityIDs...)
	out.Metadata = cloneMap(s.Metadata)
	return out
}

func shortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
