// Package session tracks the lifecycle of a single authenticated session on
// the client side: it holds the current credential and its expiration,
// persists it to a storage.Store so it survives restarts, and keeps the
// expiration in step with the server's view of the session.
//
// A Manager is the only writer of its store. State changes are published
// synchronously to subscribers registered through WatchAuthState and
// ExpirationTimer, except that a change racing a delivery already running
// on another goroutine is delivered by that goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/sessionkeeper/signal"
	"github.com/jmcleod/sessionkeeper/storage"
)

// Manager owns the in-memory session state and its persisted copy.
type Manager struct {
	store  storage.Store
	login  LoginTransport
	ping   PingTransport
	clock  Clock
	logger *slog.Logger

	// mu serializes every state transition together with its storage
	// writes. Delivery to subscribers happens after mu is released.
	mu        sync.Mutex
	state     *signal.Subject[*Credential]
	lastValid *Credential
	// authGen counts explicit logouts and committed logins. A login
	// response is committed only if it has not moved while in flight.
	authGen uint64
}

// New returns a Manager hydrated from store. A stored credential is
// restored only when all four keys are present and it has not expired;
// anything else found in the store is cleared.
func New(store storage.Store, login LoginTransport, ping PingTransport, opts ...Option) (*Manager, error) {
	m := &Manager{
		store: store,
		login: login,
		ping:  ping,
		clock: systemClock{},
		state: signal.NewSubject[*Credential](nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if err := m.hydrate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) hydrate() error {
	values := make(map[string]string, len(storageKeys))
	for _, k := range storageKeys {
		ok, err := m.store.Has(k)
		if err != nil {
			return fmt.Errorf("reading stored %s: %w", k, err)
		}
		if !ok {
			continue
		}
		v, err := m.store.Get(k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if errors.Is(err, storage.ErrCorrupt) {
			m.logger.Warn("discarding unreadable stored session", slog.String("key", k), "error", err)
			return m.replaceState(nil)
		}
		if err != nil {
			return fmt.Errorf("reading stored %s: %w", k, err)
		}
		values[k] = v
	}

	if len(values) == 0 {
		return nil
	}
	if len(values) < len(storageKeys) {
		m.logger.Warn("discarding partially stored session", slog.Int("keys_present", len(values)))
		return m.replaceState(nil)
	}

	ms, err := strconv.ParseInt(values[KeyExpiration], 10, 64)
	if err != nil {
		m.logger.Warn("discarding stored session with invalid expiration", "error", err)
		return m.replaceState(nil)
	}
	cred := Credential{
		Key:        values[KeyAPIKey],
		Expiration: time.UnixMilli(ms),
		Username:   values[KeyUsername],
		Host:       values[KeyHost],
	}
	if cred.Expiration.Before(m.clock.Now()) {
		m.logger.Debug("discarding expired stored session", slog.Any("session", cred))
		return m.replaceState(nil)
	}
	m.logger.Debug("restored stored session", slog.Any("session", cred))
	return m.replaceState(&cred)
}

// replaceState is the single state-transition primitive.
func (m *Manager) replaceState(c *Credential) error {
	m.mu.Lock()
	err := m.replaceStateLocked(c)
	m.mu.Unlock()
	m.state.Flush()
	return err
}

// replaceStateLocked persists c (or clears storage when c is nil) and then
// queues the new state for delivery. The caller must hold m.mu and call
// m.state.Flush after releasing it.
//
// If the credential cannot be written the store is cleared and the state
// becomes unauthenticated, so storage and memory never disagree.
func (m *Manager) replaceStateLocked(c *Credential) error {
	if c == nil {
		err := storage.DeleteAll(m.store, storageKeys...)
		if err != nil {
			err = fmt.Errorf("clearing stored session: %w", err)
		}
		m.state.Set(nil)
		return err
	}

	if err := storage.SetAll(m.store, c.storageValues()); err != nil {
		if cerr := storage.DeleteAll(m.store, storageKeys...); cerr != nil {
			m.logger.Warn("failed to clear partially stored session", "error", cerr)
		}
		m.state.Set(nil)
		return fmt.Errorf("storing session: %w", err)
	}
	cp := *c
	m.lastValid = &cp
	m.state.Set(&cp)
	return nil
}

// LoggedIn reports whether an unexpired credential is held. A credential
// found to be expired is cleared as a side effect.
func (m *Manager) LoggedIn() bool {
	m.mu.Lock()
	ok := m.loggedInLocked()
	m.mu.Unlock()
	m.state.Flush()
	return ok
}

func (m *Manager) loggedInLocked() bool {
	c := m.state.Value()
	if c == nil {
		return false
	}
	if !c.ExpiredAt(m.clock.Now()) {
		return true
	}
	m.logger.Info("session expired", slog.Any("session", *c))
	if err := m.replaceStateLocked(nil); err != nil {
		m.logger.Warn("failed to clear expired session", "error", err)
	}
	return false
}

// Current returns the held credential, if any. It does not check expiry.
func (m *Manager) Current() (Credential, bool) {
	c := m.state.Value()
	if c == nil {
		return Credential{}, false
	}
	return *c, true
}

// APIKey returns the key of the held credential, if any.
func (m *Manager) APIKey() (string, bool) {
	c, ok := m.Current()
	return c.Key, ok
}

// Expiration returns the expiration of the held credential, if any.
func (m *Manager) Expiration() (time.Time, bool) {
	c, ok := m.Current()
	return c.Expiration, ok
}

// RequireAPIKey returns the held key or ErrUnauthenticated.
func (m *Manager) RequireAPIKey() (string, error) {
	key, ok := m.APIKey()
	if !ok {
		return "", ErrUnauthenticated
	}
	return key, nil
}

// LastValid returns the most recent credential this Manager held. It
// survives logout and expiry and is replaced by the next authentication.
func (m *Manager) LastValid() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastValid == nil {
		return Credential{}, false
	}
	return *m.lastValid, true
}

// Login authenticates against host and, on success, makes the returned
// credential current. A port embedded in host ("db.example.com:5432") is
// sent separately; the stored credential keeps host as given.
//
// The response is not committed when ctx is done, or when Logout was called
// or another login was committed while the request was in flight;
// ErrSuperseded is returned instead.
func (m *Manager) Login(ctx context.Context, username, password, host string) (Credential, error) {
	req := LoginRequest{Username: username, Password: password, Host: host}
	if h, port, ok := splitHostPort(host); ok {
		req.Host, req.Port = h, port
	}

	m.mu.Lock()
	gen := m.authGen
	m.mu.Unlock()

	resp, err := m.login.Login(ctx, req)
	if err != nil {
		return Credential{}, err
	}
	if resp.Key == "" {
		return Credential{}, missingField("apiKey")
	}
	if resp.Expiration == "" {
		return Credential{}, missingField("expiration")
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(resp.Expiration), 10, 64)
	if err != nil {
		return Credential{}, &ProtocolError{
			Field:  "expiration",
			Reason: fmt.Sprintf("invalid expiration %q", resp.Expiration),
		}
	}
	cred := Credential{
		Key:        resp.Key,
		Expiration: time.UnixMilli(ms),
		Username:   username,
		Host:       host,
	}

	m.mu.Lock()
	if ctxErr := ctx.Err(); ctxErr != nil {
		m.mu.Unlock()
		return Credential{}, fmt.Errorf("%w: %w", ErrSuperseded, ctxErr)
	}
	if m.authGen != gen {
		m.mu.Unlock()
		m.logger.Debug("discarding superseded login response", slog.String("username", username))
		return Credential{}, ErrSuperseded
	}
	m.authGen++
	err = m.replaceStateLocked(&cred)
	m.mu.Unlock()
	m.state.Flush()
	if err != nil {
		return Credential{}, err
	}

	m.logger.Info("session established", slog.Any("session", cred))
	return cred, nil
}

// splitHostPort splits host on its first colon. A leading colon is not
// treated as a port separator.
func splitHostPort(host string) (string, string, bool) {
	i := strings.IndexByte(host, ':')
	if i <= 0 {
		return host, "", false
	}
	return host[:i], host[i+1:], true
}

// Ping asks the server whether the held key is still valid and reconciles
// the local session with the answer: an invalid key logs the session out,
// and a differing server expiration replaces the local one.
//
// The response is applied only if the held key is still the key that was
// sent; a session replaced or logged out meanwhile is left alone.
func (m *Manager) Ping(ctx context.Context) (PingResult, error) {
	key, err := m.RequireAPIKey()
	if err != nil {
		return PingResult{}, err
	}
	res, err := m.ping.Ping(ctx, key)
	if err != nil {
		return PingResult{}, err
	}
	return res, m.reconcile(key, res)
}

func (m *Manager) reconcile(sentKey string, res PingResult) error {
	m.mu.Lock()
	cur := m.state.Value()
	if cur == nil || cur.Key != sentKey {
		m.mu.Unlock()
		m.logger.Debug("ignoring ping response for a replaced session")
		return nil
	}

	var err error
	switch {
	case !res.ValidAPIKey:
		m.logger.Info("server invalidated session", slog.Any("session", *cur))
		err = m.replaceStateLocked(nil)
	case res.ExpiresAt != nil && *res.ExpiresAt != cur.Expiration.UnixMilli():
		err = m.updateExpirationLocked(*res.ExpiresAt)
	}
	m.mu.Unlock()
	m.state.Flush()
	return err
}

// UpdateExpiration replaces the expiration of the held credential with the
// given epoch-millisecond instant, keeping its key, username and host.
func (m *Manager) UpdateExpiration(unixMillis int64) error {
	m.mu.Lock()
	err := m.updateExpirationLocked(unixMillis)
	m.mu.Unlock()
	m.state.Flush()
	return err
}

func (m *Manager) updateExpirationLocked(unixMillis int64) error {
	if !m.loggedInLocked() {
		return ErrUnauthenticated
	}
	next := m.state.Value().withExpiration(unixMillis)
	m.logger.Debug("session expiration updated", slog.Time("expiration", next.Expiration))
	return m.replaceStateLocked(&next)
}

// Logout drops the held credential and clears storage. It is idempotent.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.authGen++
	wasAuthenticated := m.state.Value() != nil
	err := m.replaceStateLocked(nil)
	m.mu.Unlock()
	m.state.Flush()

	if wasAuthenticated {
		m.logger.Info("logged out")
	}
	return err
}

// WatchAuthState calls fn with true when a credential is held and false
// otherwise: once with the current state, then on every change. Repeated
// identical states are not reported.
//
// Delivery happens on the goroutine that made the change, before that call
// returns, with one exception: a change made while another goroutine is
// still delivering an earlier one is handed to that goroutine. The call
// that made it may then return before fn has run; fn still sees every
// change in order.
func (m *Manager) WatchAuthState(fn func(bool)) signal.Subscription {
	authenticated := func(c *Credential) bool { return c != nil }
	return m.state.Subscribe(signal.Map(authenticated, signal.Distinct(fn)))
}

// ExpirationTimer calls fn(false) when the held credential's expiration
// instant is reached. Each distinct expiration re-arms a single timer;
// logging out disarms it. The timer only reports; LoggedIn remains the
// authority on whether the session is still valid. Re-arming follows the
// delivery rules of WatchAuthState.
func (m *Manager) ExpirationTimer(fn func(bool)) signal.Subscription {
	t := newExpiryTimer(m.clock, fn)
	sub := m.state.Subscribe(signal.Map(expiryOf, signal.Distinct(t.reset)))
	return signal.SubscriptionFunc(func() {
		sub.Unsubscribe()
		t.stop()
	})
}
