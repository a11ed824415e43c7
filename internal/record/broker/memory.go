package broker

import (
	"context"
	"sync"
)

// MemoryBroker delivers messages synchronously inside Publish. It is used
// when no Redis server is configured and in tests.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Message)
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]func(Message))}
}

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	fns := make([]func(Message), 0, len(b.subs[msg.Key]))
	for _, fn := range b.subs[msg.Key] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		m := msg
		m.Document = msg.Document.Clone()
		fn(m)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, key string, fn func(Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]func(Message))
	}
	id := b.nextID
	b.nextID++
	b.subs[key][id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[key], id)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
		})
	}, nil
}
