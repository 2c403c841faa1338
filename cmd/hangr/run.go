package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hangr-app/hangr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("conversation", "", "only print updates for this conversation id")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and print session updates until interrupted",
	Long: "Keep the chat session connected, reconnecting with backoff, and print every update.\n" +
		"Send SIGUSR1 before the machine sleeps and SIGUSR2 after it wakes to catch up on missed events.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			cfg.Server.MetricsAddr = addr
		}
		conv, _ := cmd.Flags().GetString("conversation")
		log := newLogger(cfg.Log)

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		s, err := newSession(cfg, log, reg)
		if err != nil {
			return err
		}

		router := hangr.NewRouter(s.mgr, log)
		s.mgr.Subscribe(router.Route)
		printer := &linePrinter{out: cmd.OutOrStdout()}
		if conv != "" {
			router.AttachConversation(hangr.ConversationID(conv), printer)
		} else {
			router.AttachMain(printer)
		}

		var srv *http.Server
		if cfg.Server.MetricsAddr != "" {
			srv = serveMetrics(cfg.Server.MetricsAddr, reg, log)
		}

		sigs := make(chan os.Signal, 4)
		signal.Notify(sigs, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, powerSignals...)...)
		defer signal.Stop(sigs)

		s.mgr.Open()
		sig := forwardPowerSignals(sigs, s.power)
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		s.mgr.Close()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
		return nil
	},
}

// forwardPowerSignals turns sleep and wake signals into power events and
// returns the first other signal.
func forwardPowerSignals(sigs <-chan os.Signal, power *hangr.PowerEvents) os.Signal {
	for sig := range sigs {
		switch sig {
		case suspendSignal:
			power.Suspend()
		case resumeSignal:
			power.Resume()
		default:
			return sig
		}
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

// linePrinter is a surface writing one line per update.
type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *linePrinter) Deliver(u hangr.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s  %s\n", time.Now().Format("15:04:05"), formatUpdate(u))
}
