package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is a bounded in-process cache with per-entry TTL and LRU eviction.
type Memory struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	now     func() time.Time
}

type memEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &Memory{
		maxSize: maxSize,
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memEntry)
	if m.now().After(entry.expiresAt) {
		m.order.Remove(el)
		delete(m.entries, key)
		return nil, false
	}
	m.order.MoveToFront(el)
	return entry.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memEntry)
		entry.value = value
		entry.expiresAt = m.now().Add(ttl)
		m.order.MoveToFront(el)
		return
	}
	m.entries[key] = m.order.PushFront(&memEntry{key: key, value: value, expiresAt: m.now().Add(ttl)})
	for m.order.Len() > m.maxSize {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memEntry).key)
	}
}
