// Package sealed provides a storage.Store decorator that encrypts every
// value at rest. Keys stay in the clear; values are sealed with
// AES-256-GCM using the key name as additional authenticated data, so a
// value copied under another key fails to open.
package sealed

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/sessionkeeper/internal/util"
	"github.com/jmcleod/sessionkeeper/storage"
)

// SaltKey is the inner-store key holding the key-derivation salt.
const SaltKey = "__sealed_salt"

const saltLen = 16

// Store seals values before writing them to an inner storage.Store.
// The derived key lives in a memguard Enclave and is only decrypted for the
// duration of a single seal or open.
type Store struct {
	inner storage.Store
	key   *memguard.Enclave
	salt  []byte
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Batcher = (*Store)(nil)
)

type options struct {
	kdf util.Argon2idParams
}

// Option configures a sealed Store.
type Option func(*options)

// WithKDFParams overrides the Argon2id parameters used to derive the key
// from the passphrase.
func WithKDFParams(params util.Argon2idParams) Option {
	return func(o *options) {
		o.kdf = params
	}
}

// New derives an encryption key from passphrase and returns a Store that
// seals values into inner. The salt is loaded from inner, or generated and
// persisted on first use.
func New(inner storage.Store, passphrase string, opts ...Option) (*Store, error) {
	if passphrase == "" {
		return nil, errors.New("sealed store passphrase is required")
	}
	o := options{kdf: util.DefaultArgon2idParams()}
	for _, opt := range opts {
		opt(&o)
	}

	salt, err := loadOrCreateSalt(inner)
	if err != nil {
		return nil, err
	}
	key, err := util.DeriveArgon2idKey(util.Normalize(passphrase), salt, o.kdf)
	if err != nil {
		return nil, fmt.Errorf("deriving sealed store key: %w", err)
	}
	return &Store{
		inner: inner,
		key:   memguard.NewEnclave(key),
		salt:  salt,
	}, nil
}

func loadOrCreateSalt(inner storage.Store) ([]byte, error) {
	encoded, err := inner.Get(SaltKey)
	switch {
	case err == nil:
		salt, err := util.HexDecode(encoded)
		if err != nil || len(salt) != saltLen {
			return nil, fmt.Errorf("sealed store salt: %w", storage.ErrCorrupt)
		}
		return salt, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("loading sealed store salt: %w", err)
	}

	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return nil, err
	}
	if err := inner.Set(SaltKey, util.HexEncode(salt)); err != nil {
		return nil, fmt.Errorf("persisting sealed store salt: %w", err)
	}
	return salt, nil
}

func (s *Store) Has(key string) (bool, error) {
	return s.inner.Has(key)
}

func (s *Store) Get(key string) (string, error) {
	encoded, err := s.inner.Get(key)
	if err != nil {
		return "", err
	}
	env, err := storage.DecodeEnvelope(encoded)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", key, storage.ErrCorrupt, err)
	}

	buf, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening sealed store key: %w", err)
	}
	defer buf.Destroy()

	plain, err := storage.OpenRecord(buf.Bytes(), env, valueAAD(key))
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", key, storage.ErrCorrupt, err)
	}
	defer util.WipeBytes(plain)
	return string(plain), nil
}

func (s *Store) Set(key, value string) error {
	sealed, err := s.seal(map[string]string{key: value})
	if err != nil {
		return err
	}
	return s.inner.Set(key, sealed[key])
}

func (s *Store) Delete(key string) error {
	return s.inner.Delete(key)
}

// Clear clears the inner store and writes the salt back so the Store stays
// usable with the same passphrase.
func (s *Store) Clear() error {
	if err := s.inner.Clear(); err != nil {
		return err
	}
	return s.inner.Set(SaltKey, util.HexEncode(s.salt))
}

// SetAll seals every value and writes them through the inner store's batch
// support when it has any.
func (s *Store) SetAll(values map[string]string) error {
	sealed, err := s.seal(values)
	if err != nil {
		return err
	}
	return storage.SetAll(s.inner, sealed)
}

func (s *Store) DeleteAll(keys ...string) error {
	return storage.DeleteAll(s.inner, keys...)
}

func (s *Store) seal(values map[string]string) (map[string]string, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening sealed store key: %w", err)
	}
	defer buf.Destroy()

	out := make(map[string]string, len(values))
	for k, v := range values {
		env, err := storage.SealRecord(buf.Bytes(), []byte(v), valueAAD(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		encoded, err := storage.EncodeEnvelope(env)
		if err != nil {
			return nil, err
		}
		out[k] = encoded
	}
	return out, nil
}
