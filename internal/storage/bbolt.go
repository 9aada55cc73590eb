package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketSettings = "settings"
	bucketClosures = "closures"

	settingsKey = "current"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/limiter.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "limiter.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketSettings, bucketClosures} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// ---- Settings record -------------------------------------------------------

func (s *bboltStore) GetSettings() (*SettingsRecord, error) {
	var rec SettingsRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketSettings)).Get([]byte(settingsKey))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *bboltStore) PutSettings(rec SettingsRecord) error {
	rec.SavedAt = time.Now().UTC()
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal SettingsRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSettings)).Put([]byte(settingsKey), data)
	})
}

// ---- Closure history -------------------------------------------------------

// closureKey orders records chronologically within the bucket.
func closureKey(at time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", at.UnixNano()))
}

func (s *bboltStore) AppendClosure(rec ClosureRecord) error {
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ClosureRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketClosures))
		key := closureKey(rec.ClosedAt)
		// Avoid clobbering a record closed in the same nanosecond.
		for b.Get(key) != nil {
			rec.ClosedAt = rec.ClosedAt.Add(time.Nanosecond)
			key = closureKey(rec.ClosedAt)
		}
		return b.Put(key, data)
	})
}

func (s *bboltStore) ListClosures(limit int) ([]ClosureRecord, error) {
	var result []ClosureRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketClosures)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(result) >= limit {
				return nil
			}
			var rec ClosureRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				continue // skip corrupt entries
			}
			result = append(result, rec)
		}
		return nil
	})
	return result, err
}

func (s *bboltStore) PruneClosures(olderThan time.Time) (int, error) {
	cutoff := closureKey(olderThan.UTC())
	var pruned int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketClosures))
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil && string(k) < string(cutoff); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
