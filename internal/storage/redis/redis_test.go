package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/promptrelay/internal/config"
	"github.com/goodtune/promptrelay/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() already carries the port
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "promptrelay:",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestUsageStore_PutGet(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()
	reset := time.Now().Add(24 * time.Hour).Round(time.Microsecond)

	if err := usage.Put(ctx, "198.51.100.7", storage.UsageRecord{Count: 2, ResetTime: reset}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, err := usage.Get(ctx, "198.51.100.7")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Count != 2 {
		t.Errorf("Expected count 2, got %d", rec.Count)
	}
	if !rec.ResetTime.Equal(reset) {
		t.Errorf("Expected reset %v, got %v", reset, rec.ResetTime)
	}

	if !mr.Exists("promptrelay:usage:198.51.100.7") {
		t.Error("Expected prefixed record key")
	}
	if ttl := mr.TTL("promptrelay:usage:198.51.100.7"); ttl <= 0 || ttl > 24*time.Hour {
		t.Errorf("Expected TTL within the window, got %v", ttl)
	}
}

func TestUsageStore_GetMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	if _, err := store.Usage().Get(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestUsageStore_Load(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()
	reset := time.Now().Add(time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		if err := usage.Put(ctx, id, storage.UsageRecord{Count: i + 1, ResetTime: reset}); err != nil {
			t.Fatalf("Put %s failed: %v", id, err)
		}
	}

	// Simulate a record that expired in Redis but is still indexed
	mr.Del("promptrelay:usage:b")

	records, err := usage.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records["c"].Count != 3 {
		t.Errorf("Expected count 3 for c, got %d", records["c"].Count)
	}

	isMember, err := mr.SIsMember("promptrelay:usage:clients", "b")
	if err != nil {
		t.Fatalf("SIsMember failed: %v", err)
	}
	if isMember {
		t.Error("Expected stale index entry to be trimmed")
	}
}

func TestUsageStore_SaveReplaces(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()
	reset := time.Now().Add(time.Hour)

	if err := usage.Put(ctx, "old", storage.UsageRecord{Count: 1, ResetTime: reset}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := usage.Save(ctx, map[string]storage.UsageRecord{
		"new": {Count: 2, ResetTime: reset},
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	records, err := usage.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records["new"].Count != 2 {
		t.Errorf("Expected count 2, got %d", records["new"].Count)
	}
}

func TestUsageStore_Delete(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()

	if err := usage.Put(ctx, "x", storage.UsageRecord{Count: 1, ResetTime: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := usage.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := usage.Delete(ctx, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestOpen_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(config.RedisConfig{
		Host:         addr,
		DialTimeout:  "200ms",
		ReadTimeout:  "200ms",
		WriteTimeout: "200ms",
	})
	if err == nil {
		t.Fatal("Expected error connecting to closed server")
	}
}
