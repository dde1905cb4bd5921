package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionkeeper/internal/devserver"
	"github.com/jmcleod/sessionkeeper/session"
	bboltstorage "github.com/jmcleod/sessionkeeper/storage/bbolt"
)

type cli struct {
	server  *devserver.Server
	url     string
	dataDir string
}

func setupCLI(t *testing.T, opts ...devserver.Option) *cli {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	opts = append([]devserver.Option{devserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	srv := devserver.New(opts...)
	srv.AddUser("alice", "secret")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &cli{server: srv, url: ts.URL, dataDir: t.TempDir()}
}

func (c *cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--server", c.url, "--data-dir", c.dataDir))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) login(t *testing.T, extra ...string) string {
	t.Helper()
	args := append([]string{"login", "-u", "alice", "--host", "db.example.com:5432", "--password-stdin"}, extra...)
	out, err := c.run(t, "secret\n", args...)
	require.NoError(t, err)
	return out
}

func TestLoginStatusPingLogout(t *testing.T) {
	c := setupCLI(t)

	out, err := c.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")

	out = c.login(t)
	assert.Contains(t, out, "Logged in as alice on db.example.com:5432")
	logins := c.server.Logins()
	require.Len(t, logins, 1)
	assert.Equal(t, "db.example.com", logins[0].Host)
	assert.Equal(t, "5432", logins[0].Port)

	out, err = c.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice on db.example.com:5432")

	out, err = c.run(t, "", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "Session valid")

	out, err = c.run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	out, err = c.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
}

func TestPingRevokedSession(t *testing.T) {
	c := setupCLI(t)
	c.login(t)

	store, err := bboltstorage.NewStoreFromFile(filepath.Join(c.dataDir, "session.db"), "session", nil)
	require.NoError(t, err)
	key, err := store.Get(session.KeyAPIKey)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	c.server.Revoke(key)

	out, err := c.run(t, "", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "no longer valid")

	out, err = c.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
}

func TestLoginRejected(t *testing.T) {
	c := setupCLI(t)
	_, err := c.run(t, "wrong\n", "login", "-u", "alice", "--host", "db", "--password-stdin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestLoginRequiresFlags(t *testing.T) {
	c := setupCLI(t)
	_, err := c.run(t, "secret\n", "login", "--host", "db", "--password-stdin")
	assert.ErrorContains(t, err, "--username")
	_, err = c.run(t, "secret\n", "login", "-u", "alice", "--password-stdin")
	assert.ErrorContains(t, err, "--host")
	_, err = c.run(t, "\n", "login", "-u", "alice", "--host", "db", "--password-stdin")
	assert.ErrorContains(t, err, "password")
}

func TestSealedStore(t *testing.T) {
	c := setupCLI(t)
	c.login(t, "--passphrase", "hunter2")

	store, err := bboltstorage.NewStoreFromFile(filepath.Join(c.dataDir, "session.db"), "session", nil)
	require.NoError(t, err)
	raw, err := store.Get(session.KeyAPIKey)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.Error(t, uuid.Validate(raw), "api key stored in the clear")

	out, err := c.run(t, "", "status", "--passphrase", "hunter2")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice")
}

func TestSealedStoreWithChangedPassphrase(t *testing.T) {
	c := setupCLI(t)
	c.login(t, "--passphrase", "hunter2")

	out, err := c.run(t, "", "status", "--passphrase", "correct horse")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")

	out, err = c.run(t, "", "logout", "--passphrase", "correct horse")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	// The unreadable session was cleared, not left for the old passphrase.
	out, err = c.run(t, "", "status", "--passphrase", "hunter2")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
}

func TestWatchReportsExpiry(t *testing.T) {
	c := setupCLI(t, devserver.WithSessionTTL(2*time.Second))
	c.login(t)

	out, err := c.run(t, "", "watch", "--keepalive", "100ms")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated as alice")
	// The expiry is seen by the timer, a failed ping or the keepalive
	// check, whichever runs first; all of them end unauthenticated.
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "not authenticated"), out)
}

func TestWatchWithoutSession(t *testing.T) {
	c := setupCLI(t)
	out, err := c.run(t, "", "watch", "--keepalive", "100ms")
	require.NoError(t, err)
	assert.Contains(t, out, "not authenticated")
}

func TestDevserverRejectsHalfTLS(t *testing.T) {
	c := setupCLI(t)
	_, err := c.run(t, "", "devserver", "--tls-cert", "cert.pem")
	assert.ErrorContains(t, err, "--tls-key")
}
