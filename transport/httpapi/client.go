// Package httpapi implements the session login and ping transports over
// HTTP/JSON.
//
// Login is POST /api/v1/login with a JSON body; the session key comes back
// in the body and its expiration (epoch milliseconds) in the
// X-Session-Expiration response header. Ping is GET /api/v1/ping with the
// key in the X-API-Key request header.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jmcleod/sessionkeeper/internal/uuid"
	"github.com/jmcleod/sessionkeeper/session"
)

const (
	HeaderSessionExpiration = "X-Session-Expiration"
	HeaderAPIKey            = "X-API-Key"
	HeaderRequestID         = "X-Request-ID"

	LoginPath = "/api/v1/login"
	PingPath  = "/api/v1/ping"

	defaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20
)

// Client talks to the session API of a single server.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	logger    *slog.Logger
	userAgent string
}

var (
	_ session.LoginTransport = (*Client)(nil)
	_ session.PingTransport  = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the structured logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New returns a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginResponse is the JSON body of a successful login.
type LoginResponse struct {
	APIKey string `json:"apiKey"`
}

// Login performs the login request. The expiration header is returned raw;
// its absence is left for the caller to judge.
func (c *Client) Login(ctx context.Context, req session.LoginRequest) (session.LoginResponse, error) {
	var body LoginResponse
	header, err := c.do(ctx, http.MethodPost, LoginPath, req, nil, &body)
	if err != nil {
		return session.LoginResponse{}, err
	}
	return session.LoginResponse{
		Key:        body.APIKey,
		Expiration: header.Get(HeaderSessionExpiration),
	}, nil
}

// Ping asks whether apiKey is still valid.
func (c *Client) Ping(ctx context.Context, apiKey string) (session.PingResult, error) {
	var res session.PingResult
	h := http.Header{}
	h.Set(HeaderAPIKey, apiKey)
	if _, err := c.do(ctx, http.MethodGet, PingPath, nil, h, &res); err != nil {
		return session.PingResult{}, err
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, extra http.Header, out any) (http.Header, error) {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range extra {
		req.Header[k] = vs
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	requestID := uuid.New()
	req.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger.Debug("session api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
		slog.Duration("elapsed", time.Since(start)))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		_ = json.Unmarshal(data, &e)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.Header, nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
