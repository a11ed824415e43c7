package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS census_records (
	key          TEXT PRIMARY KEY,
	body         TEXT NOT NULL,
	last_updated TEXT NOT NULL
)`

// SQLiteCache stores each record as a JSON row in a local SQLite file, so a
// device keeps working across restarts while offline.
type SQLiteCache struct {
	db *sql.DB
}

var _ record.LocalCache = (*SQLiteCache)(nil)

// NewSQLiteCache creates the cache table if needed.
func NewSQLiteCache(ctx context.Context, db *sql.DB) (*SQLiteCache, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (*record.Document, error) {
	var body string
	err := c.db.QueryRowContext(ctx, `SELECT body FROM census_records WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d record.Document
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, fmt.Errorf("decode cached record %s: %w", key, err)
	}
	return &d, nil
}

func (c *SQLiteCache) Put(ctx context.Context, key string, doc *record.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `INSERT INTO census_records (key, body, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, last_updated = excluded.last_updated`,
		key, string(b), doc.LastUpdated.UTC().Format(time.RFC3339Nano))
	return err
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM census_records WHERE key = ?`, key)
	return err
}

// Keys lists cached dates, newest first.
func (c *SQLiteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key FROM census_records ORDER BY key DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
