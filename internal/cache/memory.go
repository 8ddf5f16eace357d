package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

type memItem struct {
	key     string
	entry   Entry
	expires time.Time
}

// Memory is a bounded LRU with per-entry expiry.
type Memory struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	ll    *list.List
	items map[string]*list.Element
	now   func() time.Time
}

// NewMemory creates an in-process cache. ttl <= 0 disables expiry.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		max:   maxEntries,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	it := el.Value.(*memItem)
	if !it.expires.IsZero() && m.now().After(it.expires) {
		m.remove(el)
		return nil, nil
	}
	m.ll.MoveToFront(el)
	e := it.entry
	return &e, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if m.ttl > 0 {
		expires = m.now().Add(m.ttl)
	}
	if el, ok := m.items[key]; ok {
		it := el.Value.(*memItem)
		it.entry, it.expires = e, expires
		m.ll.MoveToFront(el)
		return nil
	}
	m.items[key] = m.ll.PushFront(&memItem{key: key, entry: e, expires: expires})
	for m.ll.Len() > m.max {
		m.remove(m.ll.Back())
	}
	return nil
}

func (m *Memory) remove(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*memItem).key)
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// Close implements Cache.
func (m *Memory) Close() error { return nil }
