// Package repository persists census records in the authoritative store.
// Every write is conditional on the version the writer last saw.
package repository

import (
	"context"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
)

// Repository is the versioned persistence behind the remote store.
//
// Put stores doc under key when the stored version equals expected, or when
// nothing is stored yet. Otherwise it returns a *record.ConcurrencyError
// and leaves the stored document untouched.
type Repository interface {
	Get(ctx context.Context, key string) (*record.Document, error)
	Put(ctx context.Context, key string, doc *record.Document, expected time.Time) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}
