package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/Saloed/GalaxyAPI/internal/dbexec"
)

type memoryItem struct {
	rows       []dbexec.Row
	expiration time.Time
}

// Memory is an in-process cache with lazy expiry plus an optional
// background sweep.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]dbexec.Row, bool, error) {
	m.mu.RLock()
	item, found := m.items[key]
	m.mu.RUnlock()
	if !found {
		return nil, false, nil
	}
	if m.now().After(item.expiration) {
		m.mu.Lock()
		if current, ok := m.items[key]; ok && !m.now().Before(current.expiration) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return item.rows, true, nil
}

func (m *Memory) Set(_ context.Context, key string, rows []dbexec.Row, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{rows: rows, expiration: m.now().Add(ttl)}
	return nil
}

// CleanupExpired removes expired items and returns how many were dropped.
func (m *Memory) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key, item := range m.items {
		if now.After(item.expiration) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored items, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// StartCleanup sweeps expired items every interval until ctx is done.
func (m *Memory) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()
}
