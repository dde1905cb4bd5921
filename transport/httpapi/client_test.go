package httpapi_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionkeeper/internal/devserver"
	"github.com/jmcleod/sessionkeeper/session"
	"github.com/jmcleod/sessionkeeper/storage/memory"
	"github.com/jmcleod/sessionkeeper/transport/httpapi"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*devserver.Server, *httpapi.Client) {
	t.Helper()
	srv := devserver.New(devserver.WithLogger(quietLogger()))
	srv.AddUser("alice", "secret")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := httpapi.New(ts.URL, httpapi.WithLogger(quietLogger()), httpapi.WithUserAgent("sessionctl-test"))
	require.NoError(t, err)
	return srv, c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := httpapi.New("ftp://example.com")
	assert.Error(t, err)
	_, err = httpapi.New("://nope")
	assert.Error(t, err)
}

func TestLoginAndPing(t *testing.T) {
	srv, c := setup(t)
	ctx := context.Background()

	resp, err := c.Login(ctx, session.LoginRequest{Username: "alice", Password: "secret", Host: "db", Port: "5432"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Key)
	assert.NotEmpty(t, resp.Expiration)
	assert.Equal(t, "5432", srv.Logins()[0].Port)

	res, err := c.Ping(ctx, resp.Key)
	require.NoError(t, err)
	assert.True(t, res.ValidAPIKey)
	require.NotNil(t, res.ExpiresAt)

	srv.Revoke(resp.Key)
	res, err = c.Ping(ctx, resp.Key)
	require.NoError(t, err)
	assert.False(t, res.ValidAPIKey)
}

func TestLoginMissingExpirationHeader(t *testing.T) {
	srv, c := setup(t)
	srv.OmitExpiration(true)

	resp, err := c.Login(context.Background(), session.LoginRequest{Username: "alice", Password: "secret", Host: "db"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Key)
	assert.Empty(t, resp.Expiration)
}

func TestLoginStatusError(t *testing.T) {
	_, c := setup(t)

	_, err := c.Login(context.Background(), session.LoginRequest{Username: "alice", Password: "wrong", Host: "db"})
	require.Error(t, err)
	assert.True(t, httpapi.IsStatus(err, http.StatusUnauthorized))

	var se *httpapi.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invalid credentials", se.Message)
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	r := chi.NewRouter()
	r.Get("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"validApiKey":true}`))
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	c, err := httpapi.New(ts.URL, httpapi.WithUserAgent("sessionctl-test"), httpapi.WithLogger(quietLogger()))
	require.NoError(t, err)
	res, err := c.Ping(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, res.ValidAPIKey)
	assert.Nil(t, res.ExpiresAt)

	assert.Equal(t, "k1", got.Get(httpapi.HeaderAPIKey))
	assert.Equal(t, "sessionctl-test", got.Get("User-Agent"))
	assert.NotEmpty(t, got.Get(httpapi.HeaderRequestID))
}

func TestStatusErrorWithoutBody(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	c, err := httpapi.New(ts.URL, httpapi.WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = c.Ping(context.Background(), "k1")
	require.Error(t, err)
	assert.True(t, httpapi.IsStatus(err, http.StatusBadGateway))
	assert.Contains(t, err.Error(), "502")
}

func TestManagerOverHTTP(t *testing.T) {
	srv := devserver.New(devserver.WithLogger(quietLogger()), devserver.WithSlidingExpiration(true))
	srv.AddUser("alice", "secret")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c, err := httpapi.New(ts.URL, httpapi.WithLogger(quietLogger()))
	require.NoError(t, err)
	m, err := session.New(memory.NewStore(), c, c, session.WithLogger(quietLogger()))
	require.NoError(t, err)

	var states []bool
	sub := m.WatchAuthState(func(v bool) { states = append(states, v) })
	defer sub.Unsubscribe()

	cred, err := m.Login(context.Background(), "alice", "secret", "db.example.com:5432")
	require.NoError(t, err)
	assert.Equal(t, "db.example.com:5432", cred.Host)
	assert.WithinDuration(t, time.Now().Add(devserver.DefaultSessionTTL), cred.Expiration, time.Minute)
	assert.Equal(t, "db.example.com", srv.Logins()[0].Host)

	res, err := m.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, res.ValidAPIKey)
	assert.True(t, m.LoggedIn())

	srv.Revoke(cred.Key)
	_, err = m.Ping(context.Background())
	require.NoError(t, err)
	assert.False(t, m.LoggedIn())
	assert.Equal(t, []bool{false, true, false}, states)
}

func TestManagerRejectsMissingExpiration(t *testing.T) {
	srv := devserver.New(devserver.WithLogger(quietLogger()))
	srv.OmitExpiration(true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c, err := httpapi.New(ts.URL, httpapi.WithLogger(quietLogger()))
	require.NoError(t, err)
	m, err := session.New(memory.NewStore(), c, c, session.WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = m.Login(context.Background(), "bob", "pw", "db")
	require.ErrorIs(t, err, session.ErrProtocol)
	assert.Contains(t, err.Error(), "expected expiration field, none supplied")
	assert.False(t, m.LoggedIn())
}
