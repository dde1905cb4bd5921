package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionkeeper/storage"
	"github.com/jmcleod/sessionkeeper/storage/memory"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// fakeClock only moves when Advance is called and never runs a timer
// callback from inside AfterFunc.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
	armed   int
}

type fakeTicker struct {
	clock   *fakeClock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.armed++
	return t
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{clock: c, period: d, next: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves the clock forward, runs every timer that became due and
// ticks every ticker whose period elapsed. A tick is dropped when the
// previous one has not been received.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	for _, t := range c.tickers {
		for !t.stopped && !t.next.After(c.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers that have neither fired nor
// been stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Tickers returns the number of tickers that have not been stopped.
func (c *fakeClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Armed returns how many timers were ever created.
func (c *fakeClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

type fakeLogin struct {
	mu      sync.Mutex
	reqs    []LoginRequest
	resp    LoginResponse
	err     error
	started chan struct{}
	release chan struct{}
	onCall  func()
	// users overrides the response and blocking for a single username.
	users map[string]*userLogin
}

type userLogin struct {
	resp    LoginResponse
	started chan struct{}
	release chan struct{}
}

func (f *fakeLogin) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	resp, err := f.resp, f.err
	started, release, onCall := f.started, f.release, f.onCall
	if u, ok := f.users[req.Username]; ok {
		resp, started, release = u.resp, u.started, u.release
	}
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if onCall != nil {
		onCall()
	}
	return resp, err
}

func (f *fakeLogin) set(resp LoginResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp, f.err = resp, err
}

// hold makes logins as username block until the returned release channel
// is closed, then answer with resp. started is closed once the call begins.
func (f *fakeLogin) hold(username string, resp LoginResponse) (started, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.users == nil {
		f.users = make(map[string]*userLogin)
	}
	u := &userLogin{resp: resp, started: make(chan struct{}), release: make(chan struct{})}
	f.users[username] = u
	return u.started, u.release
}

func (f *fakeLogin) last() LoginRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakePing struct {
	mu      sync.Mutex
	keys    []string
	results []PingResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakePing) Ping(ctx context.Context, apiKey string) (PingResult, error) {
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	var res PingResult
	if len(f.results) > 0 {
		res = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	err := f.err
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return PingResult{}, ctx.Err()
		}
	}
	return res, err
}

func (f *fakePing) set(err error, results ...PingResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results, f.err = results, err
}

func (f *fakePing) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type harness struct {
	clock *fakeClock
	store *memory.Store
	login *fakeLogin
	ping  *fakePing
	m     *Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(epoch),
		store: memory.NewStore(),
		login: &fakeLogin{resp: LoginResponse{Key: "key-1", Expiration: millis(epoch.Add(time.Hour))}},
		ping:  &fakePing{},
	}
	h.m = h.open(t)
	return h
}

// open builds a new Manager over the harness store, as a restarted process would.
func (h *harness) open(t *testing.T) *Manager {
	t.Helper()
	m, err := New(h.store, h.login, h.ping, WithClock(h.clock), WithLogger(discardLogger()))
	require.NoError(t, err)
	return m
}

func (h *harness) loginAs(t *testing.T, key string, exp time.Time) Credential {
	t.Helper()
	h.login.set(LoginResponse{Key: key, Expiration: millis(exp)}, nil)
	c, err := h.m.Login(context.Background(), "alice", "pw", "db.example.com:5432")
	require.NoError(t, err)
	return c
}

func (h *harness) stored(t *testing.T) map[string]string {
	t.Helper()
	return storedIn(t, h.store)
}

// storedIn returns the session keys present in s.
func storedIn(t *testing.T, s storage.Store) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, k := range storageKeys {
		v, err := s.Get(k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		require.NoError(t, err)
		out[k] = v
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }
