package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/promptrelay/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	putUsage    = redis.NewScript(putUsageScript)
	deleteUsage = redis.NewScript(deleteUsageScript)
)

type usageStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func newUsageStore(client *redis.Client, prefix string) *usageStore {
	return &usageStore{client: client, prefix: prefix, now: time.Now}
}

func (s *usageStore) recordKey(clientID string) string {
	return fmt.Sprintf("%susage:%s", s.prefix, clientID)
}

func (s *usageStore) clientsKey() string {
	return s.prefix + "usage:clients"
}

// Load reads every indexed record. Index entries whose hash has expired
// are dropped from the index as a side effect.
func (s *usageStore) Load(ctx context.Context) (map[string]storage.UsageRecord, error) {
	records := make(map[string]storage.UsageRecord)

	ids, err := s.client.SMembers(ctx, s.clientsKey()).Result()
	if err != nil {
		return records, fmt.Errorf("list usage clients: %w", err)
	}
	if len(ids) == 0 {
		return records, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return records, fmt.Errorf("read usage records: %w", err)
	}

	var stale []interface{}
	for i, cmd := range cmds {
		rec, err := parseUsageRecord(cmd.Val())
		if errors.Is(err, storage.ErrNotFound) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return make(map[string]storage.UsageRecord), fmt.Errorf("client %s: %w", ids[i], err)
		}
		records[ids[i]] = *rec
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.clientsKey(), stale...).Err(); err != nil {
			return records, fmt.Errorf("trim usage index: %w", err)
		}
	}

	return records, nil
}

// Save replaces every stored record with records in a single transaction.
func (s *usageStore) Save(ctx context.Context, records map[string]storage.UsageRecord) error {
	existing, err := s.client.SMembers(ctx, s.clientsKey()).Result()
	if err != nil {
		return fmt.Errorf("list usage clients: %w", err)
	}

	now := s.now()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range existing {
			pipe.Del(ctx, s.recordKey(id))
		}
		pipe.Del(ctx, s.clientsKey())
		for id, rec := range records {
			key := s.recordKey(id)
			pipe.HSet(ctx, key,
				"count", rec.Count,
				"reset_time", rec.ResetTime.Format(time.RFC3339Nano),
			)
			if ttl := ttlMillis(rec, now); ttl > 0 {
				pipe.PExpire(ctx, key, time.Duration(ttl)*time.Millisecond)
			}
			pipe.SAdd(ctx, s.clientsKey(), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save usage records: %w", err)
	}
	return nil
}

func (s *usageStore) Get(ctx context.Context, clientID string) (*storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, s.recordKey(clientID)).Result()
	if err != nil {
		return nil, err
	}
	return parseUsageRecord(data)
}

func (s *usageStore) Put(ctx context.Context, clientID string, record storage.UsageRecord) error {
	keys := []string{s.recordKey(clientID), s.clientsKey()}
	args := []interface{}{
		clientID,
		record.Count,
		record.ResetTime.Format(time.RFC3339Nano),
		ttlMillis(record, s.now()),
	}
	return putUsage.Run(ctx, s.client, keys, args...).Err()
}

func (s *usageStore) Delete(ctx context.Context, clientID string) error {
	keys := []string{s.recordKey(clientID), s.clientsKey()}
	removed, err := deleteUsage.Run(ctx, s.client, keys, clientID).Int()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}
