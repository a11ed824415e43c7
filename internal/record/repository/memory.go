package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
)

// MemoryRepo is an in-memory Repository used for development and tests.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]*record.Document
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[string]*record.Document)}
}

func (m *MemoryRepo) Get(ctx context.Context, key string) (*record.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.store[key]; ok {
		return d.Clone(), nil
	}
	return nil, record.ErrNotFound
}

func (m *MemoryRepo) Put(ctx context.Context, key string, doc *record.Document, expected time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.store[key]; ok && !cur.LastUpdated.Equal(expected) {
		return &record.ConcurrencyError{Key: key, Expected: expected, Current: cur.LastUpdated}
	}
	d := doc.Clone()
	d.Date = key
	m.store[key] = d
	return nil
}

func (m *MemoryRepo) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[key]; !ok {
		return record.ErrNotFound
	}
	delete(m.store, key)
	return nil
}

func (m *MemoryRepo) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.store))
	for k := range m.store {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
