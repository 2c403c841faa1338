package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().String("base-url", "", "backend base URL to store alongside the token")
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an auth token in ~/.hangr/config.toml",
	Long:  "Store the auth token used to open the chat session. A running 'hangr run' picks it up after it reports being logged out and is restarted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
			cfg.Server.BaseURL = baseURL
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", path)
		return nil
	},
}
