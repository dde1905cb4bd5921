// Package devserver is a minimal in-process implementation of the session
// API: it accepts logins for configured users, issues random keys with a
// fixed lifetime and answers pings. It backs the transport tests and the
// "sessionctl devserver" command.
package devserver

import (
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	docs "github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/sessionkeeper/internal/uuid"
	"github.com/jmcleod/sessionkeeper/session"
	"github.com/jmcleod/sessionkeeper/transport/httpapi"
)

//go:embed openapi.yaml
var openapiSpec []byte

const (
	// DefaultSessionTTL is the lifetime of an issued key.
	DefaultSessionTTL = 30 * time.Minute
	maxLoginBodySize  = 64 << 10
)

// Server holds the users and issued sessions.
type Server struct {
	sessions *sessionStore
	limiter  *loginRateLimiter
	ttl      time.Duration
	sliding  bool
	now      func() time.Time
	logger   *slog.Logger

	omitExpiration atomic.Bool

	mu     sync.RWMutex
	users  map[string]string
	logins []session.LoginRequest
}

// Option configures a Server.
type Option func(*Server)

// WithSessionTTL sets the lifetime of issued keys.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.ttl = ttl
	}
}

// WithSlidingExpiration makes every successful ping push the expiration
// out by the session TTL.
func WithSlidingExpiration(enabled bool) Option {
	return func(s *Server) {
		s.sliding = enabled
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLogger sets the structured logger for request events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server with no users. Until a user is added every
// non-empty username and password pair is accepted.
func New(opts ...Option) *Server {
	s := &Server{
		ttl:   DefaultSessionTTL,
		now:   time.Now,
		users: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.sessions = newSessionStore(s.now)
	s.limiter = newLoginRateLimiter(s.now)
	return s
}

// AddUser registers a username and password.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	s.users[username] = password
	s.mu.Unlock()
}

// OmitExpiration makes login responses leave out the expiration header,
// which clients must treat as a protocol error.
func (s *Server) OmitExpiration(omit bool) {
	s.omitExpiration.Store(omit)
}

// Revoke invalidates an issued key.
func (s *Server) Revoke(key string) {
	s.sessions.Delete(key)
}

// Logins returns every login request received, in order.
func (s *Server) Logins() []session.LoginRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.LoginRequest, len(s.logins))
	copy(out, s.logins)
	return out
}

// Router returns the session API routes, to be mounted at /api/v1, along
// with the OpenAPI document describing them and its rendered views at
// /docs and /redoc.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", docs.SwaggerUI(docs.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))
	r.Handle("/redoc*", docs.Redoc(docs.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/login", s.Login)
	r.Get("/ping", s.Ping)
	return r
}

// Handler returns a complete HTTP handler serving the API under /api/v1
// and a health check at /health. mw is installed after panic recovery.
func (s *Server) Handler(mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(mw...)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Mount("/api/v1", s.Router())
	return r
}

// Login handles POST /login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req session.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	s.logins = append(s.logins, req)
	want, known := s.users[req.Username]
	anyUser := len(s.users) == 0
	s.mu.Unlock()

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if blocked, retryAfter := s.limiter.check(req.Username); blocked {
		writeRateLimited(w, retryAfter)
		return
	}
	if !anyUser && (!known || subtle.ConstantTimeCompare([]byte(want), []byte(req.Password)) != 1) {
		s.limiter.recordFailure(req.Username)
		s.logger.Info("login rejected", slog.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.limiter.recordSuccess(req.Username)

	token := uuid.New()
	expiresAt := s.now().Add(s.ttl)
	s.sessions.Put(token, authSession{
		Username:  req.Username,
		Host:      req.Host,
		ExpiresAt: expiresAt,
	})

	if !s.omitExpiration.Load() {
		w.Header().Set(httpapi.HeaderSessionExpiration, strconv.FormatInt(expiresAt.UnixMilli(), 10))
	}
	s.logger.Info("login succeeded",
		slog.String("username", req.Username),
		slog.String("host", req.Host),
		slog.String("port", req.Port))
	writeJSON(w, http.StatusOK, httpapi.LoginResponse{APIKey: token})
}

// Ping handles GET /ping.
func (s *Server) Ping(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(httpapi.HeaderAPIKey)
	if token == "" {
		writeJSON(w, http.StatusOK, session.PingResult{ValidAPIKey: false})
		return
	}
	sess, ok := s.sessions.Get(token)
	if !ok {
		writeJSON(w, http.StatusOK, session.PingResult{ValidAPIKey: false})
		return
	}
	if s.sliding {
		sess.ExpiresAt = s.now().Add(s.ttl)
		s.sessions.Put(token, sess)
	}
	expiresAt := sess.ExpiresAt.UnixMilli()
	writeJSON(w, http.StatusOK, session.PingResult{ValidAPIKey: true, ExpiresAt: &expiresAt})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, httpapi.ErrorResponse{Error: msg})
}
