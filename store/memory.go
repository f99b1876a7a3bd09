package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process cache. The zero value is not usable; call NewMemory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), now: time.Now}
}

func (m *Memory) Lookup(_ context.Context, namespace, text string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[cacheKey(Fingerprint(text), namespace)]
	if !ok {
		return "", false, nil
	}
	return e.Translation, true, nil
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	e = normalize(e, m.now)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cacheKey(e.Fingerprint, e.Namespace)] = e
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return statsOf(m.entries), nil
}

func (m *Memory) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}

func (m *Memory) Close() error { return nil }

func statsOf(entries map[string]Entry) Stats {
	var s Stats
	for _, e := range entries {
		s.Entries++
		if s.Earliest.IsZero() || e.CreatedAt.Before(s.Earliest) {
			s.Earliest = e.CreatedAt
		}
	}
	return s
}

var _ Store = (*Memory)(nil)
