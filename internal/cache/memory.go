package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	value      string
	list       []string
	expiration time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.expiration.IsZero() && now.After(it.expiration)
}

// sweepInterval bounds how often writes scan for expired entries.
const sweepInterval = time.Minute

// Memory is a thread-safe in-process Cache. Reads ignore expired entries and
// writes evict them at most once per sweepInterval. It is used when Redis is
// disabled and in tests.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]item
	now       func() time.Time
	lastSweep time.Time
}

// NewMemory creates an in-process cache. now may be nil to use time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]item), now: now, lastSweep: now()}
}

// sweep drops expired entries. Caller holds m.mu for writing.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	for key, it := range m.items {
		if it.expired(now) {
			delete(m.items, key)
		}
	}
	m.lastSweep = now
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || it.expired(m.now()) {
		return "", false, nil
	}
	return it.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(m.now())
	m.items[key] = item{value: value, expiration: m.expiry(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Append(_ context.Context, key, value string, maxLen int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	it := m.items[key]
	if it.expired(now) {
		it = item{}
	}
	it.list = append(it.list, value)
	if maxLen > 0 && len(it.list) > maxLen {
		it.list = append([]string(nil), it.list[len(it.list)-maxLen:]...)
	}
	it.expiration = m.expiry(ttl)
	m.items[key] = it
	return nil
}

func (m *Memory) Range(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[key]
	if !ok || it.expired(m.now()) {
		return nil, nil
	}
	return append([]string(nil), it.list...), nil
}

func (m *Memory) Close() error { return nil }

var _ Cache = (*Memory)(nil)
