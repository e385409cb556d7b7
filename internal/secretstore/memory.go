package secretstore

import (
	"context"
	"sync"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
)

// MemoryStore is a thread-safe in-memory Store. Suitable for tests and
// for sessions that must not touch disk.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, account string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[account]; ok {
		return &apperr.StoreError{Op: "put", Account: account, Err: apperr.ErrDuplicate}
	}

	m.data[account] = append([]byte(nil), data...)

	return nil
}

func (m *MemoryStore) Get(_ context.Context, account string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[account]
	if !ok {
		return nil, nil
	}

	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Delete(_ context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, account)

	return nil
}

// Len returns the number of occupied slots.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}
