package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dpm-admin/dpm-api/internal/platform/clock"
)

type memoryEntry struct {
	mu      sync.Mutex
	count   int64
	expires time.Time
}

// MemoryBackend is an in-process counter store. Each key has its own lock.
// Counts are per instance, so limits are approximate across replicas.
type MemoryBackend struct {
	clock   clock.Clock
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryBackend builds an empty store. A nil clock uses the system clock.
func NewMemoryBackend(clk clock.Clock) *MemoryBackend {
	return &MemoryBackend{clock: clock.OrSystem(clk), entries: make(map[string]*memoryEntry)}
}

// Name identifies the backend in status output.
func (m *MemoryBackend) Name() string { return "memory" }

// Increment implements Backend.
func (m *MemoryBackend) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &memoryEntry{}
		m.entries[key] = entry
	}
	m.mu.Unlock()

	now := m.clock.Now()
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.expires.IsZero() && !now.Before(entry.expires) {
		entry.count = 0
	}
	entry.count++
	entry.expires = now.Add(ttl)
	return entry.count, nil
}

// Len reports how many counters are held.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep drops expired counters and returns how many were removed.
func (m *MemoryBackend) Sweep() int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.entries {
		entry.mu.Lock()
		expired := !entry.expires.IsZero() && !now.Before(entry.expires)
		entry.mu.Unlock()
		if expired {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (m *MemoryBackend) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("ratelimit: sweep interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}
