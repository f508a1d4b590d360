package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/avablake/emcee/logging"
	"github.com/avablake/emcee/storage"
)

// Store persists whole-snapshot memory documents through a blob backend.
//
// Save is a full overwrite, not a merge: concurrent writers from other
// processes can race and the last write wins. That mirrors the behavior of
// the existing deployment and is accepted; the mutex below only serializes
// calls within this process.
type Store struct {
	blob   storage.Blob
	logger logging.Logger
	mu     sync.Mutex
}

// NewStore creates a snapshot store over the given blob backend.
func NewStore(blob storage.Blob, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Store{blob: blob, logger: logger}
}

// Load returns every user record under the key. A missing document is not an
// error: an empty snapshot is persisted and returned (first-touch init).
func (s *Store) Load(ctx context.Context, key string) ([]UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, key)
}

func (s *Store) loadLocked(ctx context.Context, key string) ([]UserRecord, error) {
	data, err := s.blob.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Info("memory store missing, initializing empty snapshot", "key", key)
			if err := s.saveLocked(ctx, key, nil); err != nil {
				return nil, err
			}
			return []UserRecord{}, nil
		}
		return nil, fmt.Errorf("memory: load %q: %w", key, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("memory: decode %q: %w", key, err)
	}
	if doc.Users == nil {
		doc.Users = []UserRecord{}
	}
	return doc.Users, nil
}

// Save overwrites the snapshot under the key with the given records.
func (s *Store) Save(ctx context.Context, key string, records []UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, key, records)
}

func (s *Store) saveLocked(ctx context.Context, key string, records []UserRecord) error {
	if records == nil {
		records = []UserRecord{}
	}
	data, err := json.MarshalIndent(document{Users: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encode %q: %w", key, err)
	}
	if err := s.blob.Put(ctx, key, data); err != nil {
		return fmt.Errorf("memory: save %q: %w", key, err)
	}
	return nil
}

// Append loads the snapshot, pushes the entry onto the user's record
// (creating the record if absent), and saves the whole snapshot back. The
// load/save pair is not atomic across processes.
func (s *Store) Append(ctx context.Context, key, username string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked(ctx, key)
	if err != nil {
		return err
	}
	found := false
	for i := range records {
		if records[i].Username == username {
			records[i].Memories = append(records[i].Memories, entry)
			found = true
			break
		}
	}
	if !found {
		records = append(records, UserRecord{Username: username, Memories: []Entry{entry}})
	}
	return s.saveLocked(ctx, key, records)
}

// ForUser returns the memories stored for one username, in store order.
func (s *Store) ForUser(ctx context.Context, key, username string) ([]Entry, error) {
	records, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Username == username {
			return rec.Memories, nil
		}
	}
	return nil, nil
}
