package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/internal/config"
	"github.com/jmcleod/sessionkeeper/session"
)

// linePrinter serializes output from subscriber callbacks, which may run
// on timer goroutines.
type linePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *linePrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s "+format+"\n", append([]any{time.Now().Format(timeLayout)}, args...)...)
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and report state changes until it ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			p := &linePrinter{w: cmd.OutOrStdout()}
			authSub := e.manager.WatchAuthState(func(authenticated bool) {
				if authenticated {
					cred, _ := e.manager.Current()
					p.printf("authenticated as %s on %s, expires %s",
						cred.Username, cred.Host, cred.Expiration.Format(timeLayout))
					return
				}
				p.printf("not authenticated")
			})
			defer authSub.Unsubscribe()

			expSub := e.manager.ExpirationTimer(func(bool) {
				p.printf("session expired")
				cancel()
			})
			defer expSub.Unsubscribe()

			err = e.manager.Keepalive(ctx, e.cfg.Keepalive, func(err error) {
				e.logger.Warn("keepalive ping failed", slog.Any("error", err))
			})
			switch {
			case errors.Is(err, session.ErrUnauthenticated):
				return nil
			case errors.Is(err, context.Canceled):
				// Clears an expired session so the final state is reported.
				e.manager.LoggedIn()
				return nil
			default:
				return err
			}
		},
	}
	cmd.Flags().Duration("keepalive", config.Defaults()["keepalive"].(time.Duration), "Interval between keepalive pings")
	return cmd
}
