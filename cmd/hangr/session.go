package main

import (
	"fmt"

	"github.com/hangr-app/hangr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// session bundles a manager with the power event source driving it.
type session struct {
	mgr   *hangr.Manager
	power *hangr.PowerEvents
}

func newSession(cfg *Config, log zerolog.Logger, reg prometheus.Registerer) (*session, error) {
	if cfg.Server.BaseURL == "" {
		return nil, fmt.Errorf("no server configured. Run 'hangr config set server.base_url <url>' first")
	}
	initial, err := durationOrZero(cfg.Session.InitialBackoff)
	if err != nil {
		return nil, fmt.Errorf("session.initial_backoff: %w", err)
	}
	maxBackoff, err := durationOrZero(cfg.Session.MaxBackoff)
	if err != nil {
		return nil, fmt.Errorf("session.max_backoff: %w", err)
	}

	power := &hangr.PowerEvents{}
	mgr, err := hangr.NewManager(hangr.ManagerConfig{
		Remote:         hangr.NewWSRemote(cfg.Server.BaseURL, &hangr.WSRemoteConfig{Logger: &log}),
		Credentials:    hangr.StaticToken(cfg.Auth.Token),
		PowerMonitor:   power,
		Logger:         &log,
		Metrics:        hangr.NewMetrics(reg),
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
	})
	if err != nil {
		return nil, err
	}
	return &session{mgr: mgr, power: power}, nil
}
