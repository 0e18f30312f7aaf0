// Package file stores usage records in a single JSON document on disk.
//
// The whole mapping is rewritten on every mutation through a temporary file
// and a rename, so a crash leaves either the previous or the new document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goodtune/promptrelay/internal/storage"
)

// ErrCorrupt is returned by Load when the document cannot be parsed.
var ErrCorrupt = errors.New("file: usage document is corrupt")

// Store implements the storage.Store interface using a JSON file.
type Store struct {
	usageStore *usageStore
}

// Open creates a file-backed store. The file itself is created lazily on
// the first write.
func Open(path string) (*Store, error) {
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Store{usageStore: &usageStore{path: path}}, nil
}

// Close is a no-op; every write is already flushed.
func (s *Store) Close() error {
	return nil
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

type usageStore struct {
	path    string
	mu      sync.Mutex
	records map[string]storage.UsageRecord
	loaded  bool
}

// Load reads the document. A missing file yields an empty mapping; an
// unparsable one yields an empty mapping together with ErrCorrupt.
func (s *usageStore) Load(ctx context.Context) (map[string]storage.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read(ctx)
	s.records = records
	s.loaded = true
	return storage.CloneRecords(records), err
}

func (s *usageStore) Save(ctx context.Context, records map[string]storage.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := storage.CloneRecords(records)
	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	s.loaded = true
	return nil
}

func (s *usageStore) Get(ctx context.Context, clientID string) (*storage.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	rec, ok := s.records[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (s *usageStore) Put(ctx context.Context, clientID string, record storage.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	next := storage.CloneRecords(s.records)
	next[clientID] = record
	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *usageStore) Delete(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if _, ok := s.records[clientID]; !ok {
		return storage.ErrNotFound
	}

	next := storage.CloneRecords(s.records)
	delete(next, clientID)
	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

// ensureLoaded reads the document once for stores used without Load, such
// as the CLI. A corrupt document is treated as empty, matching Load.
func (s *usageStore) ensureLoaded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.loaded {
		return nil
	}
	records, err := s.read(ctx)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}
	s.records = records
	s.loaded = true
	return nil
}

func (s *usageStore) read(ctx context.Context) (map[string]storage.UsageRecord, error) {
	records := make(map[string]storage.UsageRecord)
	if err := ctx.Err(); err != nil {
		return records, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return records, nil
		}
		return records, fmt.Errorf("read %s: %w", s.path, err)
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return make(map[string]storage.UsageRecord), fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return records, nil
}

func (s *usageStore) write(records map[string]storage.UsageRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal usage records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Removing after a successful rename fails harmlessly.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
