package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestPutUsageScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()

	tests := []struct {
		name    string
		client  string
		count   string
		ttlMs   int64
		wantTTL bool
	}{
		{
			name:    "record inside window",
			client:  "203.0.113.5",
			count:   "1",
			ttlMs:   int64(time.Hour / time.Millisecond),
			wantTTL: true,
		},
		{
			name:    "record past reset time",
			client:  "203.0.113.6",
			count:   "3",
			ttlMs:   -5000,
			wantTTL: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recordKey := "test:usage:" + tt.client
			clientsSet := "test:usage:clients"
			resetTime := time.Now().Add(time.Hour).Format(time.RFC3339Nano)

			result := client.Eval(ctx, putUsageScript, []string{
				recordKey,
				clientsSet,
			}, tt.client, tt.count, resetTime, tt.ttlMs)
			if result.Err() != nil {
				t.Fatalf("Script execution failed: %v", result.Err())
			}

			data := client.HGetAll(ctx, recordKey).Val()
			if data["count"] != tt.count {
				t.Errorf("Expected count=%s, got %s", tt.count, data["count"])
			}
			if data["reset_time"] != resetTime {
				t.Errorf("Expected reset_time=%s, got %s", resetTime, data["reset_time"])
			}

			if !client.SIsMember(ctx, clientsSet, tt.client).Val() {
				t.Errorf("Expected %s in clients set", tt.client)
			}

			hasTTL := mr.TTL(recordKey) > 0
			if hasTTL != tt.wantTTL {
				t.Errorf("Expected TTL set=%v, got TTL %v", tt.wantTTL, mr.TTL(recordKey))
			}
		})
	}
}

func TestPutUsageScript_ClearsTTLOnRewrite(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	keys := []string{"test:usage:c", "test:usage:clients"}
	reset := time.Now().Format(time.RFC3339Nano)

	if err := client.Eval(ctx, putUsageScript, keys, "c", "1", reset, 60000).Err(); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if mr.TTL("test:usage:c") <= 0 {
		t.Fatal("expected TTL after first put")
	}

	if err := client.Eval(ctx, putUsageScript, keys, "c", "2", reset, 0).Err(); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if ttl := mr.TTL("test:usage:c"); ttl != 0 {
		t.Fatalf("expected TTL cleared, got %v", ttl)
	}
}

func TestDeleteUsageScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	keys := []string{"test:usage:c", "test:usage:clients"}

	client.HSet(ctx, "test:usage:c", "count", 1, "reset_time", time.Now().Format(time.RFC3339Nano))
	client.SAdd(ctx, "test:usage:clients", "c")

	removed, err := client.Eval(ctx, deleteUsageScript, keys, "c").Int()
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if client.SIsMember(ctx, "test:usage:clients", "c").Val() {
		t.Fatal("expected client removed from index")
	}

	removed, err = client.Eval(ctx, deleteUsageScript, keys, "c").Int()
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed on missing record, got %d", removed)
	}
}
