package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation for one server instance. Each
// instance carries its own registry so tests can run several servers in one
// process.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions prometheus.Gauge
	ActiveMatches  prometheus.Gauge
	Logins         *prometheus.CounterVec
	PacketsIn      *prometheus.CounterVec
	PacketsOut     prometheus.Counter
	MessagesSent   prometheus.Counter
	TasksDropped   prometheus.Counter
	ProtocolErrors prometheus.Counter
}

// NewMetrics creates the metric set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bancho_active_sessions",
			Help: "Number of authenticated sessions currently online",
		}),
		ActiveMatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bancho_active_matches",
			Help: "Number of live multiplayer matches",
		}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bancho_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		PacketsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bancho_packets_received_total",
			Help: "Client packets received by packet name",
		}, []string{"packet"}),
		PacketsOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "bancho_packets_sent_total",
			Help: "Server packets queued for delivery",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "bancho_chat_messages_total",
			Help: "Chat messages relayed",
		}),
		TasksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "bancho_tasks_dropped_total",
			Help: "Background tasks dropped because the queue was full",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bancho_protocol_errors_total",
			Help: "Malformed packets that terminated a connection",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a standalone metrics listener. Blocks until the listener fails.
func (m *Metrics) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
