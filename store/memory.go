package store

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process Driver with LRU eviction and an optional TTL.
// It is the default collaborator for single-process use and tests.
type Memory struct {
	capacity int
	ttl      time.Duration // 0 means entries never expire

	mu      sync.Mutex
	entries map[string]*memoryEntry
	order   *list.List // front is most recently used
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero when no TTL
	element   *list.Element
}

// NewMemory creates an in-memory driver holding at most capacity entries.
// A non-positive capacity falls back to 1000. ttl of zero disables expiry.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*memoryEntry),
		order:    list.New(),
	}
}

func (m *Memory) Read(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		m.removeEntry(e)
		return nil, false, nil
	}
	m.order.MoveToFront(e.element)

	// Copy so callers cannot mutate the cached bytes.
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true, nil
}

func (m *Memory) Write(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.value = stored
		e.expiresAt = m.expiry()
		m.order.MoveToFront(e.element)
		return nil
	}

	for len(m.entries) >= m.capacity {
		m.evictOldest()
	}

	e := &memoryEntry{
		key:       key,
		value:     stored,
		expiresAt: m.expiry(),
	}
	e.element = m.order.PushFront(e)
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		m.removeEntry(e)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*memoryEntry)
	m.order.Init()
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(m.ttl)
}

func (m *Memory) evictOldest() {
	back := m.order.Back()
	if back == nil {
		return
	}
	m.removeEntry(back.Value.(*memoryEntry))
}

func (m *Memory) removeEntry(e *memoryEntry) {
	m.order.Remove(e.element)
	delete(m.entries, e.key)
}

var _ Driver = (*Memory)(nil)
