// Package remote combines the versioned repository with the write broker
// into the record.RemoteStore the sync orchestrator talks to.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/internal/record/broker"
	"github.com/censo/censo/backend/go-services/internal/record/repository"
	"github.com/censo/censo/backend/go-services/pkg/logger"
)

// Store is one device's handle on the authoritative store. Writes are
// tagged with the device origin so that the device's own subscription can
// recognise them as echoes.
type Store struct {
	repo   repository.Repository
	broker broker.Broker
	origin string
}

var _ record.RemoteStore = (*Store)(nil)

func New(repo repository.Repository, b broker.Broker, origin string) *Store {
	return &Store{repo: repo, broker: b, origin: origin}
}

// Origin identifies the device this handle writes as.
func (s *Store) Origin() string { return s.origin }

func (s *Store) Fetch(ctx context.Context, key string) (*record.Document, error) {
	d, err := s.repo.Get(ctx, key)
	if errors.Is(err, record.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, record.Transient("fetch", key, err)
	}
	return d, nil
}

func (s *Store) Write(ctx context.Context, key string, doc *record.Document, expected time.Time) error {
	if err := s.repo.Put(ctx, key, doc, expected); err != nil {
		return record.Transient("write", key, err)
	}
	// the write is durable at this point; a lost notification only delays
	// other devices until their next deep sync
	if err := s.broker.Publish(ctx, broker.Message{Key: key, Origin: s.origin, Document: doc}); err != nil {
		logger.Warnf("remote: publish %s failed: %v", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.repo.Delete(ctx, key)
	if err == nil || errors.Is(err, record.ErrNotFound) {
		return nil
	}
	return record.Transient("delete", key, err)
}

func (s *Store) Subscribe(ctx context.Context, key string, fn record.UpdateFunc) (func(), error) {
	unsub, err := s.broker.Subscribe(ctx, key, func(m broker.Message) {
		if m.Document == nil {
			return
		}
		fn(m.Document, m.Origin == s.origin)
	})
	if err != nil {
		return nil, record.Transient("subscribe", key, err)
	}
	return unsub, nil
}

// List returns the dates that have a stored record.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.repo.List(ctx)
	if err != nil {
		return nil, record.Transient("list", "*", err)
	}
	return keys, nil
}
