package credentials

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Exists(_ context.Context, tenantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("memory store is closed")
	}
	_, ok := s.records[tenantID]
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	out := make([]string, 0, len(s.records))
	for tenantID := range s.records {
		out = append(out, tenantID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	rec, ok := s.records[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.Blob...), nil
}

func (s *MemoryStore) Put(_ context.Context, tenantID string, blob []byte) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	rec, ok := s.records[tenantID]
	if !ok {
		rec = Record{TenantID: tenantID, CreatedAt: now}
	}
	rec.Blob = append([]byte(nil), blob...)
	rec.UpdatedAt = now
	s.records[tenantID] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("memory store is closed")
	}
	if _, ok := s.records[tenantID]; !ok {
		return false, nil
	}
	delete(s.records, tenantID)
	return true, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
