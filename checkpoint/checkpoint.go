package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/itiky/chatsync/model"
)

const (
	revisionKeyPrefix = "rev:"
	stateKeyPrefix    = "state:"
)

type (
	// Store persists session checkpoints: the revision cursor and the state it belongs to.
	Store struct {
		db *pebble.DB
	}

	// Checkpoint is a persisted session state.
	Checkpoint struct {
		Revision model.Revision
		State    model.FullUpdate
		SavedAt  time.Time
	}

	// stateRecord is the stored state value.
	stateRecord struct {
		State   json.RawMessage `json:"state"`
		SavedAt time.Time       `json:"savedAt"`
	}
)

// Save writes the checkpoint atomically (revision and state in one batch).
func (s *Store) Save(key string, cp Checkpoint) error {
	if key == "" {
		return fmt.Errorf("%s: empty", "key")
	}
	if cp.Revision.IsZero() {
		return fmt.Errorf("%s: empty", "Revision")
	}

	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("state marshal: %w", err)
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now().UTC()
	}
	record, err := json.Marshal(stateRecord{State: state, SavedAt: cp.SavedAt})
	if err != nil {
		return fmt.Errorf("record marshal: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set([]byte(revisionKeyPrefix+key), []byte(cp.Revision), nil); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if err := batch.Set([]byte(stateKeyPrefix+key), record, nil); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("batch commit: %w", err)
	}

	return nil
}

// Load reads the checkpoint, the bool result is false if there is none.
func (s *Store) Load(key string) (Checkpoint, bool, error) {
	rev, found, err := s.get(revisionKeyPrefix + key)
	if err != nil || !found {
		return Checkpoint{}, false, err
	}
	rawRecord, found, err := s.get(stateKeyPrefix + key)
	if err != nil || !found {
		return Checkpoint{}, false, err
	}

	record := stateRecord{}
	if err := json.Unmarshal(rawRecord, &record); err != nil {
		return Checkpoint{}, false, fmt.Errorf("record unmarshal: %w", err)
	}
	fu, err := model.DecodeFullUpdateJSON(record.State)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("state decode: %w", err)
	}

	return Checkpoint{
		Revision: model.Revision(rev),
		State:    fu,
		SavedAt:  record.SavedAt,
	}, true, nil
}

// Delete removes the checkpoint.
func (s *Store) Delete(key string) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete([]byte(revisionKeyPrefix+key), nil); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if err := batch.Delete([]byte(stateKeyPrefix+key), nil); err != nil {
		return fmt.Errorf("batch: %w", err)
	}

	return batch.Commit(pebble.Sync)
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// get returns a value copy.
func (s *Store) get(key string) ([]byte, bool, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get (%s): %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)

	return out, true, nil
}

// Open opens (creates) the Store at the directory path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	return open(path, &pebble.Options{})
}

// OpenInMemory opens a Store which is not persisted.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble.Open: %w", err)
	}

	return &Store{db: db}, nil
}
