// Package bbolt provides a BBolt-backed storage.Store that survives process
// restarts.
package bbolt

import (
	"errors"
	"fmt"

	"github.com/jmcleod/sessionkeeper/storage"
	"go.etcd.io/bbolt"
)

// DefaultBucket is the bucket used when none is given.
const DefaultBucket = "session"

// Store implements storage.Store on a single BBolt bucket. Several Stores
// may share a database by using different buckets.
type Store struct {
	db     *bbolt.DB
	bucket []byte
	owned  bool
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Batcher = (*Store)(nil)
)

// NewStore returns a Store backed by the given BBolt database. The caller
// keeps ownership of db.
func NewStore(db *bbolt.DB, bucket string) *Store {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Store{db: db, bucket: []byte(bucket)}
}

// NewStoreFromFile opens a BBolt database at the given path and returns a
// Store that closes it on Close.
func NewStoreFromFile(path, bucket string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s := NewStore(db, bucket)
	s.owned = true
	return s, nil
}

// Close closes the underlying database when the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Has(key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		found = b != nil && b.Get([]byte(key)) != nil
		return nil
	})
	return found, wrapClosed(err)
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		// data is only valid for the life of the transaction.
		value = string(data)
		return nil
	})
	if err != nil {
		return "", wrapClosed(err)
	}
	return value, nil
}

func (s *Store) Set(key, value string) error {
	return s.SetAll(map[string]string{key: value})
}

func (s *Store) Delete(key string) error {
	return s.DeleteAll(key)
}

// Clear drops the Store's bucket.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket(s.bucket)
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	return wrapClosed(err)
}

// SetAll writes every value in one transaction.
func (s *Store) SetAll(values map[string]string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		for k, v := range values {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	})
	return wrapClosed(err)
}

// DeleteAll removes every key in one transaction.
func (s *Store) DeleteAll(keys ...string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	})
	return wrapClosed(err)
}

func wrapClosed(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %w", storage.ErrClosed, err)
	}
	return err
}
