package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps window counters in process memory. Dev mode and tests
// only; counters are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func key(principalID string, wt WindowType, start time.Time) string {
	return fmt.Sprintf("%s|%s|%d", principalID, wt, start.Unix())
}

func (m *MemoryStore) IncrWithin(ctx context.Context, principalID string, wt WindowType, windowStart time.Time, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(principalID, wt, windowStart)
	w, ok := m.windows[k]
	if !ok {
		w = &window{start: windowStart}
		m.windows[k] = w
	}
	if w.count >= limit {
		return w.count, false, nil
	}
	w.count++
	return w.count, true, nil
}

func (m *MemoryStore) Decr(ctx context.Context, principalID string, wt WindowType, windowStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[key(principalID, wt, windowStart)]; ok && w.count > 0 {
		w.count--
	}
	return nil
}

func (m *MemoryStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for k, w := range m.windows {
		if w.start.Before(olderThan) {
			delete(m.windows, k)
			purged++
		}
	}
	return purged, nil
}
