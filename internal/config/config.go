// Package config loads sessionctl settings from flags, environment
// variables and an optional sessionctl.yaml file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configName = "sessionctl"
	envPrefix  = "SESSIONCTL"

	// StoreFile is the bbolt file name inside the data directory.
	StoreFile = "session.db"
)

// Config is the resolved sessionctl configuration.
type Config struct {
	Server     string        `mapstructure:"server"`
	DataDir    string        `mapstructure:"data-dir"`
	Bucket     string        `mapstructure:"bucket"`
	LogLevel   string        `mapstructure:"log-level"`
	Passphrase string        `mapstructure:"passphrase"`
	Keepalive  time.Duration `mapstructure:"keepalive"`
}

// Defaults returns the values used when nothing else sets a key.
func Defaults() map[string]any {
	return map[string]any{
		"server":     "http://localhost:8080",
		"data-dir":   defaultDataDir(),
		"bucket":     "session",
		"log-level":  "warn",
		"passphrase": "",
		"keepalive":  time.Minute,
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".sessionctl"
	}
	return filepath.Join(dir, configName)
}

// Load resolves the configuration for cmd. When configFile is set it must
// exist; otherwise sessionctl.yaml is looked up in the user config
// directory and the working directory, and its absence is not an error.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, fmt.Errorf("binding flags: %w", err)
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data-dir must not be empty")
	}
	if c.Bucket == "" {
		return errors.New("bucket must not be empty")
	}
	if c.Keepalive <= 0 {
		return fmt.Errorf("keepalive must be positive, got %s", c.Keepalive)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// StorePath is the path of the bbolt session file.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, StoreFile)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
