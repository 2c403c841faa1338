package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hangr-app/hangr"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the session")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the effective configuration, then connect once and report the session state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Server:      %s\n", valueOrDefault(cfg.Server.BaseURL, "(not set)"))
		if cfg.Auth.Token != "" {
			fmt.Fprintf(out, "  Token:       %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Fprintln(out, "  Token:       (not set)")
		}
		fmt.Fprintf(out, "  Log level:   %s\n", valueOrDefault(cfg.Log.Level, "info"))

		if cfg.Server.BaseURL == "" || cfg.Auth.Token == "" {
			return nil
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		log := newLogger(cfg.Log)
		s, err := newSession(cfg, log, nil)
		if err != nil {
			return err
		}
		defer s.mgr.Close()

		settled := make(chan struct{}, 1)
		s.mgr.Subscribe(func(u hangr.Update) {
			switch u.Kind() {
			case hangr.KindRecentConversations, hangr.KindLoggedOut, hangr.KindReconnecting:
				select {
				case settled <- struct{}{}:
				default:
				}
			}
		})
		s.mgr.Open()

		select {
		case <-settled:
		case <-time.After(timeout):
			fmt.Fprintln(out, "  (timed out waiting for the session)")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := s.mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}
		printStatus(out, st)
		return nil
	},
}

func printStatus(out io.Writer, st hangr.Status) {
	fmt.Fprintf(out, "  State:         %s\n", st.State)
	if st.LastBackoff > 0 {
		fmt.Fprintf(out, "  Next retry in: %s\n", st.LastBackoff)
	}
	if st.SelfInfo != nil {
		fmt.Fprintf(out, "  Signed in as:  %s\n", entityName(st.SelfInfo.SelfEntity))
	}
	if st.CacheLoaded {
		fmt.Fprintf(out, "  Conversations: %d\n", st.CachedConvs)
	}
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
