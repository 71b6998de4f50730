package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore is a simple in-process backend for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]map[string]Record)}
}

func (s *InMemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := s.records[rec.OwnerID]
	if owned == nil {
		owned = make(map[string]Record)
		s.records[rec.OwnerID] = owned
	}
	key := contentKey(rec.Content)
	for _, r := range owned {
		if r.ID == rec.ID || contentKey(r.Content) == key {
			return ErrDuplicate
		}
	}
	owned[rec.ID] = rec.clone()
	return nil
}

func (s *InMemoryStore) Replace(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := s.records[rec.OwnerID]
	if _, ok := owned[rec.ID]; !ok {
		return ErrNotFound
	}
	key := contentKey(rec.Content)
	for id, r := range owned {
		if id != rec.ID && contentKey(r.Content) == key {
			return ErrDuplicate
		}
	}
	owned[rec.ID] = rec.clone()
	return nil
}

func (s *InMemoryStore) Remove(_ context.Context, ownerID string, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := s.records[ownerID]
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := owned[id]; ok {
			delete(owned, id)
			removed = append(removed, id)
		}
	}
	if len(owned) == 0 {
		delete(s.records, ownerID)
	}
	return removed, nil
}

func (s *InMemoryStore) List(_ context.Context, ownerID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owned := s.records[ownerID]
	out := make([]Record, 0, len(owned))
	for _, r := range owned {
		out = append(out, r.clone())
	}
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, ownerID, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[ownerID][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.clone(), nil
}

func (s *InMemoryStore) SetSyncState(_ context.Context, ownerID, id string, state SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[ownerID][id]
	if !ok {
		return ErrNotFound
	}
	r.SyncState = state
	s.records[ownerID][id] = r
	return nil
}

func (s *InMemoryStore) Owners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for owner := range s.records {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func contentKey(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}
