package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/promptrelay/internal/storage"
)

// parseUsageRecord converts a Redis hash to UsageRecord
func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	count, err := strconv.Atoi(data["count"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse count: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("negative count %d", count)
	}

	resetTime, err := time.Parse(time.RFC3339Nano, data["reset_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse reset_time: %w", err)
	}

	return &storage.UsageRecord{
		Count:     count,
		ResetTime: resetTime,
	}, nil
}

// ttlMillis returns how long a record should live in Redis. Records past
// their reset time are dead weight, so the key expires with the window.
func ttlMillis(rec storage.UsageRecord, now time.Time) int64 {
	return rec.ResetTime.Sub(now).Milliseconds()
}
