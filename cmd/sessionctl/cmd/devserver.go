package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/internal/devserver"
)

func newDevserverCmd() *cobra.Command {
	var (
		port    int
		users   []string
		ttl     time.Duration
		sliding bool
		tlsCert string
		tlsKey  string
	)
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local session API server for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (tlsCert == "") != (tlsKey == "") {
				return errors.New("--tls-cert and --tls-key must be given together")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)

			srv := devserver.New(
				devserver.WithSessionTTL(ttl),
				devserver.WithSlidingExpiration(sliding),
				devserver.WithLogger(logger))
			for _, u := range users {
				name, password, ok := strings.Cut(u, ":")
				if !ok || name == "" || password == "" {
					return fmt.Errorf("invalid --user %q, want name:password", u)
				}
				srv.AddUser(name, password)
			}

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           srv.Handler(middleware.RequestID, middleware.Logger),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			done := make(chan error, 1)
			go func() {
				var err error
				if tlsCert != "" {
					err = server.ListenAndServeTLS(tlsCert, tlsKey)
				} else {
					err = server.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					done <- fmt.Errorf("server failed: %w", err)
					return
				}
				done <- nil
			}()

			printBanner(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "Starting dev server on port %d (session ttl %s)...\n", port, ttl)
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users configured; any username and password is accepted")
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					return fmt.Errorf("server shutdown failed: %w", err)
				}
				return nil
			case err := <-done:
				return err
			}
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringArrayVar(&users, "user", nil, "Accepted user as name:password (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", devserver.DefaultSessionTTL, "Lifetime of issued session keys")
	cmd.Flags().BoolVar(&sliding, "sliding", true, "Extend a session's expiration on every ping")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	return cmd
}
