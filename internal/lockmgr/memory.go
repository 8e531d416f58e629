package lockmgr

import (
	"context"
	"sync"
	"time"

	"pkt.systems/occupd/internal/clock"
)

// MemoryKV is an in-process lock backing store. Suitable for a single-node
// deployment and for tests; TTLs are evaluated against the injected clock.
type MemoryKV struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryKV builds an empty store. A nil clock falls back to real time.
func NewMemoryKV(clk clock.Clock) *MemoryKV {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryKV{clock: clk, entries: make(map[string]memoryEntry)}
}

// SetIfAbsent atomically claims key unless a live entry exists.
func (m *MemoryKV) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if entry, ok := m.entries[key]; ok && entry.expiresAt.After(now) {
		return false, append([]byte(nil), entry.value...), nil
	}
	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: now.Add(ttl),
	}
	return true, nil, nil
}

// Get returns the live value for key.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || !entry.expiresAt.After(m.clock.Now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Delete removes key unconditionally.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

var _ KV = (*MemoryKV)(nil)
