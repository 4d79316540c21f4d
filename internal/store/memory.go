package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process KeyValueStore with per-key TTLs. Expired
// entries are invisible to Get immediately; the purge loop only reclaims
// their memory. Session-level expiry semantics never depend on the loop.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory store that purges physically expired
// entries every interval once Start is called.
func NewMemoryStore(logger *slog.Logger, interval time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: cp, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrKeyNotFound
	}

	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Start runs the purge loop until the context is cancelled or Stop is
// called.
func (m *MemoryStore) Start(ctx context.Context) {
	m.logger.Info("memory store purge loop started",
		slog.String("interval", m.interval.String()))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.purge()
		}
	}
}

// Stop terminates the purge loop. Safe to call more than once.
func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *MemoryStore) purge() {
	now := time.Now()
	removed := 0

	m.mu.Lock()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Debug("purged expired store entries", slog.Int("removed", removed))
	}
}
