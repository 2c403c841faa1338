package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// configKey binds a dotted key to one Config field.
type configKey struct {
	name   string
	secret bool
	get    func(*Config) string
	set    func(*Config, string) error
}

func stringKey(name string, field func(*Config) *string) configKey {
	return configKey{
		name: name,
		get:  func(c *Config) string { return *field(c) },
		set:  func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func durationKey(name string, field func(*Config) *string) configKey {
	k := stringKey(name, field)
	k.set = func(c *Config, v string) error {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*field(c) = v
		return nil
	}
	return k
}

// configKeys lists every settable key in display order.
var configKeys = []configKey{
	stringKey("server.base_url", func(c *Config) *string { return &c.Server.BaseURL }),
	stringKey("server.metrics_addr", func(c *Config) *string { return &c.Server.MetricsAddr }),
	func() configKey {
		k := stringKey("auth.token", func(c *Config) *string { return &c.Auth.Token })
		k.secret = true
		return k
	}(),
	{
		name: "log.level",
		get:  func(c *Config) string { return c.Log.Level },
		set: func(c *Config, v string) error {
			if _, err := zerolog.ParseLevel(v); err != nil {
				return fmt.Errorf("invalid log level %q: %w", v, err)
			}
			c.Log.Level = v
			return nil
		},
	},
	{
		name: "log.json",
		get:  func(c *Config) string { return strconv.FormatBool(c.Log.JSON) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("log.json must be true or false")
			}
			c.Log.JSON = b
			return nil
		},
	},
	durationKey("session.initial_backoff", func(c *Config) *string { return &c.Session.InitialBackoff }),
	durationKey("session.max_backoff", func(c *Config) *string { return &c.Session.MaxBackoff }),
}

func lookupConfigKey(name string) (configKey, error) {
	for _, k := range configKeys {
		if k.name == name {
			return k, nil
		}
	}
	return configKey{}, fmt.Errorf("unknown config key %q (run 'hangr config list' for valid keys)", name)
}

// setConfigValue sets a config field by dotted key (e.g. "server.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	k, err := lookupConfigKey(key)
	if err != nil {
		return err
	}
	return k.set(cfg, value)
}

// getConfigValue reads a config field by dotted key.
func getConfigValue(cfg *Config, key string) (string, error) {
	k, err := lookupConfigKey(key)
	if err != nil {
		return "", err
	}
	return k.get(cfg), nil
}

// ============================================================================
// Commands
// ============================================================================

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd, configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage hangr configuration",
	Long:  "Read or change settings in ~/.hangr/config.toml.\nHANGR_BASE_URL, HANGR_TOKEN, HANGR_METRICS_ADDR and HANGR_LOG_LEVEL override the file.",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one effective setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		v, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Change a setting in the config file",
	Example: "  hangr config set server.base_url https://chat.example.com\n  hangr config set session.max_backoff 2m",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"show"},
	Short:   "Print every effective setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		listConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func listConfig(out io.Writer, cfg *Config) {
	for _, k := range configKeys {
		v := k.get(cfg)
		if k.secret && v != "" {
			v = maskKey(v)
		}
		fmt.Fprintf(out, "%-24s %s\n", k.name, valueOrDefault(v, "(not set)"))
	}
}
