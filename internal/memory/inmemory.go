package memory

import (
	"context"
	"sort"
	"sync"
)

// InMemoryBackend keeps records in process memory for local/dev use and tests.
// Nothing survives a restart.
type InMemoryBackend struct {
	mu      sync.RWMutex
	records map[string]UserMemory
}

var _ Backend = (*InMemoryBackend)(nil)

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{records: make(map[string]UserMemory)}
}

func (b *InMemoryBackend) Save(_ context.Context, m UserMemory) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[m.UserID] = m.Clone()
	return nil
}

func (b *InMemoryBackend) Load(_ context.Context, userID string) (UserMemory, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.records[userID]
	if !ok {
		return UserMemory{}, ErrNotFound
	}
	return m.Clone(), nil
}

func (b *InMemoryBackend) Delete(_ context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, userID)
	return nil
}

func (b *InMemoryBackend) ListUsers(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	users := make([]string, 0, len(b.records))
	for id := range b.records {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (b *InMemoryBackend) Close() error { return nil }
