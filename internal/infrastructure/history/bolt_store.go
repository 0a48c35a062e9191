package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

var (
	runsBucket = []byte("runs")
	idsBucket  = []byte("ids")
)

// BoltStore persists history in a bbolt file.
// Runs are keyed by big-endian timestamp plus id so cursors walk them in time order;
// a second bucket maps id to run key.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) the bolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, domain.SecureFilePermissions, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{runsBucket, idsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, path: path}, nil
}

// Save inserts or replaces a record.
func (s *BoltStore) Save(_ context.Context, record domain.HistoryRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		runs, ids := tx.Bucket(runsBucket), tx.Bucket(idsBucket)
		if old := ids.Get([]byte(record.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}
		key := runKey(record.Timestamp, record.ID)
		if err := runs.Put(key, value); err != nil {
			return err
		}
		return ids.Put([]byte(record.ID), key)
	})
}

// Records returns history entries, newest first (limit/search optional).
func (s *BoltStore) Records(ctx context.Context, limit int, search string) ([]domain.HistoryRecord, error) {
	var records []domain.HistoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec domain.HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if !matches(rec, search) {
				continue
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	return records, err
}

// Get looks a record up by id or unique id prefix.
func (s *BoltStore) Get(_ context.Context, id string) (domain.HistoryRecord, error) {
	if id == "" {
		return domain.HistoryRecord{}, domain.ErrRecordNotFound
	}
	var found []domain.HistoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		runs := tx.Bucket(runsBucket)
		c := tx.Bucket(idsBucket).Cursor()
		prefix := []byte(id)
		for k, key := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, key = c.Next() {
			var rec domain.HistoryRecord
			if err := json.Unmarshal(runs.Get(key), &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if rec.ID == id {
				found = []domain.HistoryRecord{rec}
				return nil
			}
			found = append(found, rec)
			if len(found) > 1 {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	return pickRecord(id, found)
}

// Prune deletes records older than before.
func (s *BoltStore) Prune(_ context.Context, before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs, ids := tx.Bucket(runsBucket), tx.Bucket(idsBucket)
		limit := runKey(before, "")
		var stale [][]byte
		c := runs.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, key := range stale {
			if err := runs.Delete(key); err != nil {
				return err
			}
			if err := ids.Delete(key[8:]); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Clear deletes all history entries.
func (s *BoltStore) Clear(context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{runsBucket, idsBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// Path returns the bolt file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func runKey(ts time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	return append(key, id...)
}

var _ ports.HistoryRepository = (*BoltStore)(nil)
