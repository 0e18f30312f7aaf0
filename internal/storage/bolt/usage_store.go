package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/promptrelay/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) Load(ctx context.Context) (map[string]storage.UsageRecord, error) {
	records, err := readBucket[storage.UsageRecord](ctx, s.db, bucketUsageRecords)
	if err != nil {
		return make(map[string]storage.UsageRecord), err
	}
	return records, nil
}

// Save drops and recreates the bucket inside one transaction so readers
// never observe a partial mapping.
func (s *usageStore) Save(ctx context.Context, records map[string]storage.UsageRecord) error {
	encoded := make(map[string][]byte, len(records))
	for id, rec := range records {
		data, err := marshal(rec)
		if err != nil {
			return err
		}
		encoded[id] = data
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tx.Bucket([]byte(bucketUsageRecords)) != nil {
			if err := tx.DeleteBucket([]byte(bucketUsageRecords)); err != nil {
				return fmt.Errorf("drop usage bucket: %w", err)
			}
		}
		b, err := tx.CreateBucket([]byte(bucketUsageRecords))
		if err != nil {
			return fmt.Errorf("create usage bucket: %w", err)
		}
		for id, data := range encoded {
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *usageStore) Get(ctx context.Context, clientID string) (*storage.UsageRecord, error) {
	return getBucketValue[storage.UsageRecord](ctx, s.db, bucketUsageRecords, clientID)
}

func (s *usageStore) Put(ctx context.Context, clientID string, record storage.UsageRecord) error {
	return putBucketValue(ctx, s.db, bucketUsageRecords, clientID, record)
}

func (s *usageStore) Delete(ctx context.Context, clientID string) error {
	return deleteBucketValue(ctx, s.db, bucketUsageRecords, clientID)
}
