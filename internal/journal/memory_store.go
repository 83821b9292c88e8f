package journal

import (
	"context"
	"fmt"
	"sync"

	"sessiongate.local/gateway/internal/events"
)

const defaultMemoryRetention = 200

type MemoryStore struct {
	mu        sync.Mutex
	retention int
	byTenant  map[string][]events.Notification
	closed    bool
}

func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = defaultMemoryRetention
	}
	return &MemoryStore{
		retention: retention,
		byTenant:  make(map[string][]events.Notification),
	}
}

func (s *MemoryStore) Append(_ context.Context, n events.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory journal is closed")
	}
	list := append(s.byTenant[n.TenantID], n)
	if len(list) > s.retention {
		list = append([]events.Notification(nil), list[len(list)-s.retention:]...)
	}
	s.byTenant[n.TenantID] = list
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, tenantID string, limit int) ([]events.Notification, error) {
	limit = normalizeLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory journal is closed")
	}
	list := s.byTenant[tenantID]
	if limit < len(list) {
		list = list[len(list)-limit:]
	}
	out := make([]events.Notification, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
