// ABOUTME: BoltDB-backed offset store
// ABOUTME: Keeps the current offset and its update time in one bucket
package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/store"
	"go.etcd.io/bbolt"
)

var (
	bucketOffsets = []byte("offsets")

	keyCurrent   = []byte("current")
	keyUpdatedAt = []byte("updated_at")
)

// Storage persists the offset in a BoltDB file.
type Storage struct {
	db *bbolt.DB
}

// New opens (or creates) the database at dbPath.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database file.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketOffsets); err != nil {
			return fmt.Errorf("failed to create offsets bucket: %w", err)
		}
		return nil
	})
}

// LoadOffset returns the current offset, ok=false if none was stored.
func (s *Storage) LoadOffset(ctx context.Context) (int64, bool, error) {
	if s.db == nil {
		return 0, false, store.ErrStoreClosed
	}

	var offset int64
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOffsets)
		if bucket == nil {
			return fmt.Errorf("offsets bucket not found")
		}
		raw := bucket.Get(keyCurrent)
		if raw == nil {
			return nil
		}
		if len(raw) != 8 {
			return fmt.Errorf("corrupt offset value: %d bytes", len(raw))
		}
		offset = int64(binary.BigEndian.Uint64(raw))
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to load offset: %w", err)
	}

	return offset, ok, nil
}

// StoreOffset replaces the current offset.
func (s *Storage) StoreOffset(ctx context.Context, offset int64) error {
	if s.db == nil {
		return store.ErrStoreClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOffsets)
		if bucket == nil {
			return fmt.Errorf("offsets bucket not found")
		}
		if err := bucket.Put(keyCurrent, encodeInt64(offset)); err != nil {
			return err
		}
		return bucket.Put(keyUpdatedAt, encodeInt64(time.Now().UnixMicro()))
	})
	if err != nil {
		return fmt.Errorf("failed to store offset: %w", err)
	}
	return nil
}

// UpdatedAt returns when the offset was last stored; zero if never.
func (s *Storage) UpdatedAt(ctx context.Context) (time.Time, error) {
	if s.db == nil {
		return time.Time{}, store.ErrStoreClosed
	}

	var at time.Time
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOffsets)
		if bucket == nil {
			return fmt.Errorf("offsets bucket not found")
		}
		if raw := bucket.Get(keyUpdatedAt); len(raw) == 8 {
			at = time.UnixMicro(int64(binary.BigEndian.Uint64(raw)))
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read update time: %w", err)
	}
	return at, nil
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
