package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/pkg/logger"
)

var ErrObjectNotFound = errors.New("object not found")

const archivePrefix = "records/"

// ObjectStore is the subset of MinIOStorage the archive needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, meta map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// RecordArchive keeps the last copy of deleted census records.
type RecordArchive struct {
	store ObjectStore
}

func NewRecordArchive(store ObjectStore) *RecordArchive {
	return &RecordArchive{store: store}
}

// ArchiveKey is the object key a record of date is archived under.
func ArchiveKey(date string) string {
	return archivePrefix + date + ".json"
}

func (a *RecordArchive) ArchiveRecord(ctx context.Context, doc *record.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.Date, err)
	}
	meta := map[string]string{
		"record-date":  doc.Date,
		"last-updated": doc.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
	if err := a.store.Put(ctx, ArchiveKey(doc.Date), bytes.NewReader(body), int64(len(body)), "application/json", meta); err != nil {
		return fmt.Errorf("upload %s: %w", doc.Date, err)
	}
	logger.Infof("archive: stored record %s (%d bytes)", doc.Date, len(body))
	return nil
}

// LoadArchived returns the archived copy of date, or record.ErrNotFound.
func (a *RecordArchive) LoadArchived(ctx context.Context, date string) (*record.Document, error) {
	rc, err := a.store.Get(ctx, ArchiveKey(date))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: archived %s", record.ErrNotFound, date)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var doc record.Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode archived %s: %w", date, err)
	}
	return &doc, nil
}

// ArchivedDates lists the dates with an archived copy, oldest first.
func (a *RecordArchive) ArchivedDates(ctx context.Context) ([]string, error) {
	keys, err := a.store.Keys(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, archivePrefix)
		if date, ok := strings.CutSuffix(name, ".json"); ok && !strings.Contains(date, "/") {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}
