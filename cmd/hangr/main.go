package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.hangr/config.toml.
type Config struct {
	Server  ConfigServer  `toml:"server"`
	Auth    ConfigAuth    `toml:"auth"`
	Log     ConfigLog     `toml:"log"`
	Session ConfigSession `toml:"session"`
}

// ConfigServer holds the backend endpoints.
type ConfigServer struct {
	BaseURL     string `toml:"base_url"`
	MetricsAddr string `toml:"metrics_addr"`
}

// ConfigAuth holds the login state.
type ConfigAuth struct {
	Token string `toml:"token"`
}

// ConfigLog holds logging settings.
type ConfigLog struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// ConfigSession tunes the session manager. Durations use Go syntax ("1s").
type ConfigSession struct {
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
}

// envOverrides are read from HANGR_* variables and win over the file.
type envOverrides struct {
	BaseURL     string `envconfig:"BASE_URL"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	Token       string `envconfig:"TOKEN"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.hangr, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".hangr")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadEffectiveConfig is loadConfig with HANGR_* overrides applied.
func loadEffectiveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("hangr", &env); err != nil {
		return fmt.Errorf("cannot read environment: %w", err)
	}
	if env.BaseURL != "" {
		cfg.Server.BaseURL = env.BaseURL
	}
	if env.MetricsAddr != "" {
		cfg.Server.MetricsAddr = env.MetricsAddr
	}
	if env.Token != "" {
		cfg.Auth.Token = env.Token
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	return nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// durationOrZero parses a duration setting; empty means "use the default".
func durationOrZero(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// ============================================================================
// Logging
// ============================================================================

var (
	flagLogLevel string
	flagLogJSON  bool
)

func newLogger(cfg ConfigLog) zerolog.Logger {
	level := zerolog.InfoLevel
	name := cfg.Level
	if flagLogLevel != "" {
		name = flagLogLevel
	}
	if name != "" {
		if l, err := zerolog.ParseLevel(name); err == nil {
			level = l
		}
	}
	var logger zerolog.Logger
	if cfg.JSON || flagLogJSON {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "hangr",
	Short: "Chat session daemon",
	Long:  "Command-line interface for the hangr session manager.\nKeep a chat session connected, print its updates, and manage configuration.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "log as JSON instead of console text")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
