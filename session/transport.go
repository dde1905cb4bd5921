package session

import "context"

// LoginRequest is sent to the LoginTransport. Port is set only when the
// host given to Login carried one.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     string `json:"port,omitempty"`
}

// LoginResponse is what a LoginTransport returns on success. Expiration is
// the raw out-of-band expiration value (epoch milliseconds) and is empty
// when the server did not supply one.
type LoginResponse struct {
	Key        string
	Expiration string
}

// LoginTransport performs a login request.
type LoginTransport interface {
	Login(ctx context.Context, req LoginRequest) (LoginResponse, error)
}

// PingResult is the server's view of a session. ExpiresAt is epoch
// milliseconds and may be absent.
type PingResult struct {
	ValidAPIKey bool   `json:"validApiKey"`
	ExpiresAt   *int64 `json:"expiresAt,omitempty"`
}

// PingTransport checks whether a key is still valid server-side.
type PingTransport interface {
	Ping(ctx context.Context, apiKey string) (PingResult, error)
}
