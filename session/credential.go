package session

import (
	"log/slog"
	"time"
)

// Storage keys. The store holds either all four or none of them.
const (
	KeyAPIKey     = "apiKey"
	KeyExpiration = "expiration"
	KeyUsername   = "username"
	KeyHost       = "host"
)

var storageKeys = []string{KeyAPIKey, KeyExpiration, KeyUsername, KeyHost}

// Credential is an authenticated session: the opaque key the server issued,
// the instant it stops being valid, and who it was issued to and by.
type Credential struct {
	Key        string
	Expiration time.Time
	Username   string
	Host       string
}

// ExpiredAt reports whether the credential is no longer valid at now. A
// credential is expired at its expiration instant.
func (c Credential) ExpiredAt(now time.Time) bool {
	return !now.Before(c.Expiration)
}

// LogValue keeps the key out of log output.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("host", c.Host),
		slog.Time("expiration", c.Expiration),
	)
}

func (c Credential) storageValues() map[string]string {
	return map[string]string{
		KeyAPIKey:     c.Key,
		KeyExpiration: formatMillis(c.Expiration),
		KeyUsername:   c.Username,
		KeyHost:       c.Host,
	}
}

func (c Credential) withExpiration(ms int64) Credential {
	c.Expiration = time.UnixMilli(ms)
	return c
}

// expiryKey identifies the expiration instant of a possibly absent
// credential. Any epoch-millisecond value, zero included, is a real instant;
// only ok distinguishes "no credential".
type expiryKey struct {
	ms int64
	ok bool
}

func expiryOf(c *Credential) expiryKey {
	if c == nil {
		return expiryKey{}
	}
	return expiryKey{ms: c.Expiration.UnixMilli(), ok: true}
}
