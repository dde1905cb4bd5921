package session

import (
	"context"
	"errors"
	"time"
)

// Keepalive pings the server every interval so the local expiration follows
// the server's. It returns ErrUnauthenticated once no valid session is held
// (including after a ping invalidated it) and ctx.Err() when ctx is done.
// Other ping failures are passed to onError, which may be nil, and the loop
// carries on at the next tick.
func (m *Manager) Keepalive(ctx context.Context, interval time.Duration, onError func(error)) error {
	if interval <= 0 {
		return errors.New("keepalive interval must be positive")
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !m.LoggedIn() {
			return ErrUnauthenticated
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		if _, err := m.Ping(ctx); err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, ErrUnauthenticated):
				return err
			case onError != nil:
				onError(err)
			}
		}
	}
}
