package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func sampleDoc() *record.Document {
	return &record.Document{
		Date:        "2025-01-01",
		LastUpdated: time.Date(2025, 1, 1, 9, 15, 0, 250000000, time.UTC),
		Data: map[string]any{
			"beds":           map[string]any{"R1": map[string]any{"patientName": "Juan Pérez", "age": float64(71)}},
			"nursesDayShift": []any{"María"},
		},
	}
}

func exerciseCache(t *testing.T, c record.LocalCache) {
	t.Helper()
	ctx := context.Background()

	got, err := c.Get(ctx, "2025-01-01")
	require.NoError(t, err)
	require.Nil(t, got)

	d := sampleDoc()
	require.NoError(t, c.Put(ctx, "2025-01-01", d))

	got, err = c.Get(ctx, "2025-01-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, d.Date, got.Date)
	require.True(t, d.LastUpdated.Equal(got.LastUpdated))
	require.Equal(t, d.Data, got.Data)

	d.Data["nursesDayShift"] = []any{"José"}
	d.LastUpdated = d.LastUpdated.Add(time.Minute)
	require.NoError(t, c.Put(ctx, "2025-01-01", d))
	got, err = c.Get(ctx, "2025-01-01")
	require.NoError(t, err)
	require.Equal(t, []any{"José"}, got.Data["nursesDayShift"])

	require.NoError(t, c.Delete(ctx, "2025-01-01"))
	got, err = c.Get(ctx, "2025-01-01")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache())
	exerciseKeys(t, NewMemoryCache())
}

type keyedCache interface {
	Put(ctx context.Context, key string, doc *record.Document) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

func exerciseKeys(t *testing.T, c keyedCache) {
	t.Helper()
	ctx := context.Background()
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)

	for _, k := range []string{"2025-01-02", "2025-01-04", "2025-01-03"} {
		require.NoError(t, c.Put(ctx, k, sampleDoc()))
	}
	require.NoError(t, c.Delete(ctx, "2025-01-04"))
	keys, err = c.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"2025-01-03", "2025-01-02"}, keys)
}

func TestSQLiteCache(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	c, err := NewSQLiteCache(context.Background(), db)
	require.NoError(t, err)
	exerciseCache(t, c)

	require.NoError(t, c.Put(context.Background(), "2025-01-02", sampleDoc()))
	require.NoError(t, c.Put(context.Background(), "2025-01-03", sampleDoc()))
	keys, err := c.Keys(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2025-01-03", "2025-01-02"}, keys)
}

func TestRedisCache(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	exerciseCache(t, NewRedisCache(client, "test:cache:", 0))

	require.NoError(t, client.Set(context.Background(), "other:2025-01-09", "x", 0).Err())
	exerciseKeys(t, NewRedisCache(client, "keys:cache:", 0))
}

func TestRedisCache_TTL(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisCache(client, "", time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "2025-01-01", sampleDoc()))
	require.True(t, m.Exists("censo:cache:2025-01-01"))

	m.FastForward(2 * time.Hour)
	got, err := c.Get(ctx, "2025-01-01")
	require.NoError(t, err)
	require.Nil(t, got)
}
