package record

import (
	"context"
	"time"
)

// LocalCache is the device-local copy of records, keyed by date. Get
// returns (nil, nil) when the key is absent.
type LocalCache interface {
	Get(ctx context.Context, key string) (*Document, error)
	Put(ctx context.Context, key string, doc *Document) error
	Delete(ctx context.Context, key string) error
}

// UpdateFunc receives documents pushed by a RemoteStore subscription.
// isEcho is true when the update is the round trip of a write issued by the
// same store handle.
type UpdateFunc func(doc *Document, isEcho bool)

// RemoteStore is the authoritative multi-writer store.
//
// Fetch returns (nil, nil) when the key is absent; the version of a fetched
// document is its LastUpdated. Write must atomically compare the stored
// version with expected and return a *ConcurrencyError when they differ,
// unless no document exists yet for key.
type RemoteStore interface {
	Fetch(ctx context.Context, key string) (*Document, error)
	Write(ctx context.Context, key string, doc *Document, expected time.Time) error
	Delete(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string, fn UpdateFunc) (unsubscribe func(), err error)
}

// Notifier is the user-facing status surface. Calls must not block.
type Notifier interface {
	Success(title, detail string)
	Warning(title, detail string)
	Error(title, detail string)
}
