// ABOUTME: Prometheus metrics for sync clients and probe servers
// ABOUTME: Counts answered probes and sync outcomes, tracks the current offset
package metrics

import (
	"errors"
	"net/http"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "timesync"

// Sync outcomes used as the "outcome" label.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient_samples"
	OutcomeImplausible  = "implausible_step"
	OutcomeNoUpstream   = "no_upstream"
	OutcomeError        = "error"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ProbesAnswered *prometheus.CounterVec
	SyncAttempts   *prometheus.CounterVec
	ProbesRejected prometheus.Counter
	Offset         prometheus.Gauge
	RoundTrip      prometheus.Gauge
	Clients        prometheus.Gauge
}

// New registers all collectors plus the Go runtime collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ProbesAnswered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_answered_total",
			Help:      "Probes answered by this server.",
		}, []string{"transport", "outcome"}),
		SyncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Sync attempts by outcome.",
		}, []string{"outcome"}),
		ProbesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_rejected_total",
			Help:      "Malformed probe replies dropped by sync sessions.",
		}),
		Offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offset_microseconds",
			Help:      "Last stored clock offset.",
		}),
		RoundTrip: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round_trip_microseconds",
			Help:      "Round trip of the sample behind the last offset.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "WebSocket clients currently connected.",
		}),
	}

	m.registry.MustRegister(
		m.ProbesAnswered,
		m.SyncAttempts,
		m.ProbesRejected,
		m.Offset,
		m.RoundTrip,
		m.Clients,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSync records one AttemptSync outcome.
func (m *Metrics) ObserveSync(res timesync.Result, err error) {
	m.SyncAttempts.WithLabelValues(Outcome(err)).Inc()
	m.ProbesRejected.Add(float64(res.Rejected))
	if err != nil {
		return
	}
	m.Offset.Set(float64(res.Offset))
	m.RoundTrip.Set(float64(res.RoundTrip))
}

// ObserveAnswer records one probe answered over transport.
func (m *Metrics) ObserveAnswer(transport string, err error) {
	m.ProbesAnswered.WithLabelValues(transport, Outcome(err)).Inc()
}

// Outcome maps a sync or answer error to its label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, timesync.ErrInsufficientSamples):
		return OutcomeInsufficient
	case errors.Is(err, timesync.ErrImplausibleStep):
		return OutcomeImplausible
	case errors.Is(err, timesync.ErrNoUpstreamConfigured):
		return OutcomeNoUpstream
	default:
		return OutcomeError
	}
}
