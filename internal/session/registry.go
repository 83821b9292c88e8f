package session

import (
	"sort"
	"sync"
)

// Registry maps tenant ids to live entries and bounds how many may exist.
//
// mu guards entries and reserved. No entry lock is taken while mu is held,
// and teardown never runs under mu.
type Registry struct {
	mu       sync.Mutex
	max      int
	reserved int
	entries  map[string]*entry
}

func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = 1
	}
	return &Registry{
		max:     max,
		entries: make(map[string]*entry),
	}
}

// TryReserve claims a slot if one is free. Sessions are admitted through
// Admit, which reserves and stores in one step; TryReserve and Put are the
// two halves for callers that build the entry after winning the slot.
func (r *Registry) TryReserve() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tryReserveLocked()
}

func (r *Registry) tryReserveLocked() bool {
	if r.reserved >= r.max {
		return false
	}
	r.reserved++
	return true
}

// Release returns a slot taken by TryReserve that was never filled.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved > 0 {
		r.reserved--
	}
}

// Admit returns the tenant's current entry if it has one. Otherwise it
// reserves a slot and stores e, or fails with ErrAtCapacity.
func (r *Registry) Admit(tenantID string, e *entry) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[tenantID]; ok {
		return existing, nil
	}
	if !r.tryReserveLocked() {
		return nil, ErrAtCapacity
	}
	r.entries[tenantID] = e
	return nil, nil
}

// Put stores e under a slot the caller already won with TryReserve. An entry
// already stored for the tenant is replaced and the surplus slot released.
func (r *Registry) Put(tenantID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[tenantID]; ok && r.reserved > 0 {
		r.reserved--
	}
	r.entries[tenantID] = e
}

func (r *Registry) Get(tenantID string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[tenantID]
	return e, ok
}

// Remove deletes the tenant's entry only if it is still e, and frees its slot.
func (r *Registry) Remove(tenantID string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[tenantID]
	if !ok || current != e {
		return false
	}
	delete(r.entries, tenantID)
	if r.reserved > 0 {
		r.reserved--
	}
	return true
}

// ForEach visits a snapshot of the entries in tenant order, outside the lock.
func (r *Registry) ForEach(visit func(tenantID string, e *entry) bool) {
	for _, item := range r.snapshot() {
		if !visit(item.tenantID, item.entry) {
			return
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) Capacity() int {
	return r.max
}

type registryItem struct {
	tenantID string
	entry    *entry
}

func (r *Registry) snapshot() []registryItem {
	r.mu.Lock()
	items := make([]registryItem, 0, len(r.entries))
	for tenantID, e := range r.entries {
		items = append(items, registryItem{tenantID: tenantID, entry: e})
	}
	r.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].tenantID < items[j].tenantID })
	return items
}
