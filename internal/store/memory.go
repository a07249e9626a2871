package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps snapshots in process memory. Used for the mock provider
// and when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*Record)}
}

func (m *MemoryStore) GetSnapshot(_ context.Context, entityID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) ListSnapshots(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (m *MemoryStore) UpsertSnapshot(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.EntityID] = rec.Clone()
	return nil
}

func (m *MemoryStore) DeleteSnapshot(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, entityID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
