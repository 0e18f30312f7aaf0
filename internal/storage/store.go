package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
}

// UsageStore persists per-client usage records.
//
// Load is called once at startup; every later mutation is written through
// with Put or Delete. Save replaces the entire persisted mapping.
type UsageStore interface {
	Load(ctx context.Context) (map[string]UsageRecord, error)
	Save(ctx context.Context, records map[string]UsageRecord) error
	Get(ctx context.Context, clientID string) (*UsageRecord, error)
	Put(ctx context.Context, clientID string, record UsageRecord) error
	Delete(ctx context.Context, clientID string) error
}
