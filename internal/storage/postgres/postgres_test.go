//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goodtune/promptrelay/internal/storage"
	"github.com/goodtune/promptrelay/internal/storage/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/promptrelay_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool) *postgres.Store {
	t.Helper()
	table := "test_" + strings.ToLower(t.Name())
	s := postgres.New(pool, postgres.WithTable(table))

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table))
	})
	return s
}

func TestPutGetDelete(t *testing.T) {
	pool := newTestPool(t)
	usage := newTestStore(t, pool).Usage()
	ctx := context.Background()
	reset := time.Now().Add(24 * time.Hour).Truncate(time.Microsecond)

	if err := usage.Put(ctx, "10.1.1.1", storage.UsageRecord{Count: 1, ResetTime: reset}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := usage.Put(ctx, "10.1.1.1", storage.UsageRecord{Count: 2, ResetTime: reset}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := usage.Get(ctx, "10.1.1.1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Count != 2 || !rec.ResetTime.Equal(reset) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := usage.Delete(ctx, "10.1.1.1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := usage.Get(ctx, "10.1.1.1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	pool := newTestPool(t)
	usage := newTestStore(t, pool).Usage()
	ctx := context.Background()
	reset := time.Now().Add(time.Hour).Truncate(time.Microsecond)

	if err := usage.Put(ctx, "stale", storage.UsageRecord{Count: 3, ResetTime: reset}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := usage.Save(ctx, map[string]storage.UsageRecord{
		"a": {Count: 1, ResetTime: reset},
		"b": {Count: 2, ResetTime: reset},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	records, err := usage.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if _, ok := records["stale"]; ok {
		t.Fatal("expected stale record to be replaced")
	}
}
