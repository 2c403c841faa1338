package hangr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a Manager.
type Metrics struct {
	// Connection metrics
	Connected       prometheus.Gauge
	ConnectAttempts prometheus.Counter
	Reconnects      prometheus.Counter
	BackoffSeconds  prometheus.Gauge

	// Traffic metrics
	Updates          *prometheus.CounterVec
	EchoesSuppressed prometheus.Counter
	CatchUps         prometheus.Counter
	RPCErrors        *prometheus.CounterVec

	// Cache metrics
	CachedConversations prometheus.Gauge
	CachedEntities      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "hangr_session_connected",
			Help: "1 while the remote session is connected",
		}),
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "hangr_session_connect_attempts_total",
			Help: "Total number of connect attempts",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "hangr_session_reconnects_scheduled_total",
			Help: "Total number of retries scheduled after a connect failure",
		}),
		BackoffSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "hangr_session_backoff_seconds",
			Help: "Delay of the most recently scheduled retry",
		}),
		Updates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hangr_updates_emitted_total",
				Help: "Total number of updates emitted to subscribers",
			},
			[]string{"kind"},
		),
		EchoesSuppressed: f.NewCounter(prometheus.CounterOpts{
			Name: "hangr_self_echoes_suppressed_total",
			Help: "Total number of inbound copies of our own messages dropped",
		}),
		CatchUps: f.NewCounter(prometheus.CounterOpts{
			Name: "hangr_catch_up_syncs_total",
			Help: "Total number of catch-up syncs issued on resume",
		}),
		RPCErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hangr_rpc_errors_total",
				Help: "Total number of failed RPCs",
			},
			[]string{"method", "type"},
		),
		CachedConversations: f.NewGauge(prometheus.GaugeOpts{
			Name: "hangr_cache_conversations",
			Help: "Number of conversations in the cache",
		}),
		CachedEntities: f.NewGauge(prometheus.GaugeOpts{
			Name: "hangr_cache_entities",
			Help: "Number of entities in the entity cache",
		}),
	}
}
