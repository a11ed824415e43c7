// Package cache holds the device-local copies of census records.
package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/censo/censo/backend/go-services/internal/record"
)

// MemoryCache keeps records in process memory. Nothing survives a restart.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]*record.Document
}

var _ record.LocalCache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{store: make(map[string]*record.Document)}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (*record.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.store[key]
	if !ok {
		return nil, nil
	}
	return d.Clone(), nil
}

func (m *MemoryCache) Put(ctx context.Context, key string, doc *record.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = doc.Clone()
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// Keys lists cached dates, newest first.
func (m *MemoryCache) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.store))
	for k := range m.store {
		out = append(out, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
