// Package storage defines the key-value persistence contract used to keep a
// session credential across process restarts, plus the sealed-record
// envelope used by encrypting stores.
package storage

import "errors"

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned by stores that have been closed.
	ErrClosed = errors.New("store closed")
	// ErrCorrupt is returned by Get when a value exists but cannot be
	// decoded, for example because it was sealed under another passphrase.
	// Retrying will not help; the value can only be overwritten or deleted.
	ErrCorrupt = errors.New("stored value unreadable")
)

// Store is a string key-value store that outlives the process.
//
// Delete of a missing key is not an error. Clear removes every key the
// store holds, including keys written by other components.
type Store interface {
	Has(key string) (bool, error)
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Clear() error
}

// Batcher is implemented by stores that can apply several writes
// atomically. Callers that must never leave a partial group of keys behind
// prefer these methods when available.
type Batcher interface {
	SetAll(values map[string]string) error
	DeleteAll(keys ...string) error
}

// SetAll writes values through b when s implements Batcher and one key at a
// time otherwise.
func SetAll(s Store, values map[string]string) error {
	if b, ok := s.(Batcher); ok {
		return b.SetAll(values)
	}
	for k, v := range values {
		if err := s.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAll removes keys through b when s implements Batcher and one key at
// a time otherwise. Every key is attempted; the first error is returned.
func DeleteAll(s Store, keys ...string) error {
	if b, ok := s.(Batcher); ok {
		return b.DeleteAll(keys...)
	}
	var firstErr error
	for _, k := range keys {
		if err := s.Delete(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
