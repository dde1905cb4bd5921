package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/internal/config"
	"github.com/jmcleod/sessionkeeper/session"
	"github.com/jmcleod/sessionkeeper/storage"
	bboltstorage "github.com/jmcleod/sessionkeeper/storage/bbolt"
	"github.com/jmcleod/sessionkeeper/storage/sealed"
	"github.com/jmcleod/sessionkeeper/transport/httpapi"
)

// Version is set by the linker.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "sessionctl manages a client session against a session API server",
		Long: `Log in to a server, keep the session alive and watch it expire.
The session key is stored locally so it survives restarts.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := config.Defaults()
	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file (default is sessionctl.yaml in the user config dir or the working dir)")
	pf.String("server", defaults["server"].(string), "Base URL of the session API")
	pf.String("data-dir", defaults["data-dir"].(string), "Directory for the local session store")
	pf.String("bucket", defaults["bucket"].(string), "Bucket holding the session in the store")
	pf.String("log-level", defaults["log-level"].(string), "Log level (debug, info, warn, error)")
	pf.String("passphrase", "", "Encrypt the stored session with this passphrase")

	cmd.AddCommand(
		newLoginCmd(),
		newStatusCmd(),
		newPingCmd(),
		newLogoutCmd(),
		newWatchCmd(),
		newDevserverCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		memguard.Purge()
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	file, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(cmd, file)
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	level, _ := cfg.Level()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// env is everything a session command needs, opened from the resolved
// configuration.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	manager *session.Manager
	close   func() error
}

func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	bolt, err := bboltstorage.NewStoreFromFile(cfg.StorePath(), cfg.Bucket, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	var store storage.Store = bolt
	if cfg.Passphrase != "" {
		store, err = sealed.New(bolt, cfg.Passphrase)
		if err != nil {
			bolt.Close()
			return nil, fmt.Errorf("failed to unlock session storage: %w", err)
		}
	}

	client, err := httpapi.New(cfg.Server,
		httpapi.WithLogger(logger),
		httpapi.WithUserAgent("sessionctl/"+Version))
	if err != nil {
		bolt.Close()
		return nil, err
	}

	m, err := session.New(store, client, client, session.WithLogger(logger))
	if err != nil {
		bolt.Close()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &env{cfg: cfg, logger: logger, manager: m, close: bolt.Close}, nil
}
