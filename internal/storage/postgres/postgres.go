// Package postgres stores usage records in a PostgreSQL table so the quota
// ledger lives outside the relay host.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goodtune/promptrelay/internal/config"
	"github.com/goodtune/promptrelay/internal/storage"
)

// Store implements the storage.Store interface using PostgreSQL.
type Store struct {
	pool       *pgxpool.Pool
	table      string
	ownsPool   bool
	usageStore *usageStore
}

// Option configures Store.
type Option func(*Store)

// WithTable sets the table name (default "promptrelay_usage").
func WithTable(table string) Option {
	return func(s *Store) { s.table = table }
}

// New wraps an existing pool. The caller keeps ownership of the pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:  pool,
		table: "promptrelay_usage",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.usageStore = &usageStore{pool: pool, table: pgx.Identifier{s.table}.Sanitize()}
	return s
}

// Open connects to the configured database and creates the usage table if
// it does not exist.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnTimeout != "" {
		timeout, err := time.ParseDuration(cfg.ConnTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid conn_timeout: %w", err)
		}
		poolCfg.ConnConfig.ConnectTimeout = timeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	var opts []Option
	if cfg.Table != "" {
		opts = append(opts, WithTable(cfg.Table))
	}
	s := New(pool, opts...)
	s.ownsPool = true

	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the usage table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			client_id TEXT PRIMARY KEY,
			count INTEGER NOT NULL CHECK (count >= 0),
			reset_time TIMESTAMPTZ NOT NULL
		)`, s.usageStore.table)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool when Open created it.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

type usageStore struct {
	pool  *pgxpool.Pool
	table string
}

func (s *usageStore) Load(ctx context.Context) (map[string]storage.UsageRecord, error) {
	records := make(map[string]storage.UsageRecord)

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT client_id, count, reset_time FROM %s`, s.table))
	if err != nil {
		return records, fmt.Errorf("postgres: load: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			rec storage.UsageRecord
		)
		if err := rows.Scan(&id, &rec.Count, &rec.ResetTime); err != nil {
			return make(map[string]storage.UsageRecord), fmt.Errorf("postgres: scan: %w", err)
		}
		records[id] = rec
	}
	if err := rows.Err(); err != nil {
		return make(map[string]storage.UsageRecord), fmt.Errorf("postgres: load: %w", err)
	}
	return records, nil
}

func (s *usageStore) Save(ctx context.Context, records map[string]storage.UsageRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("postgres: clear: %w", err)
	}

	batch := &pgx.Batch{}
	insert := fmt.Sprintf(`INSERT INTO %s (client_id, count, reset_time) VALUES ($1, $2, $3)`, s.table)
	for id, rec := range records {
		batch.Queue(insert, id, rec.Count, rec.ResetTime)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *usageStore) Get(ctx context.Context, clientID string) (*storage.UsageRecord, error) {
	var rec storage.UsageRecord
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count, reset_time FROM %s WHERE client_id = $1`, s.table),
		clientID,
	).Scan(&rec.Count, &rec.ResetTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	return &rec, nil
}

func (s *usageStore) Put(ctx context.Context, clientID string, record storage.UsageRecord) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (client_id, count, reset_time)
			VALUES ($1, $2, $3)
			ON CONFLICT (client_id) DO UPDATE SET count = $2, reset_time = $3`, s.table),
		clientID, record.Count, record.ResetTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: put: %w", err)
	}
	return nil
}

func (s *usageStore) Delete(ctx context.Context, clientID string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE client_id = $1`, s.table),
		clientID,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
