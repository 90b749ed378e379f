package soak

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llxisdsh/slotmap"
)

// Metrics exports operation counters and map statistics of a soak run.
type Metrics struct {
	registry *prometheus.Registry

	ops        *prometheus.CounterVec
	mismatches prometheus.Counter

	capacity    *prometheus.GaugeVec
	size        *prometheus.GaugeVec
	tombstones  *prometheus.GaugeVec
	growths     *prometheus.GaugeVec
	compactions *prometheus.GaugeVec
	released    *prometheus.GaugeVec
	retired     *prometheus.GaugeVec
}

// NewMetrics creates the metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "slotmap",
			Name:      name,
			Help:      help,
		}, []string{"phase"})
	}

	m := &Metrics{
		registry: registry,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotmap",
			Name:      "soak_ops_total",
			Help:      "Map operations issued by soak workers",
		}, []string{"phase", "op"}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slotmap",
			Name:      "soak_mismatches_total",
			Help:      "Results that disagreed with the reference map",
		}),
		capacity:    gauge("capacity", "Slots in the current table"),
		size:        gauge("size", "Entries in the map"),
		tombstones:  gauge("tombstones", "Tombstoned slots in the current table"),
		growths:     gauge("growths", "Migrations to a larger table"),
		compactions: gauge("compactions", "Migrations that only dropped tombstones"),
		released:    gauge("released_tables", "Superseded tables returned to the free list"),
		retired:     gauge("retired_tables", "Superseded tables still pinned"),
	}
	registry.MustRegister(
		m.ops, m.mismatches,
		m.capacity, m.size, m.tombstones,
		m.growths, m.compactions, m.released, m.retired,
	)
	return m
}

// Registry returns the registry holding all harness metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) addOps(phase, op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ops.WithLabelValues(phase, op).Add(float64(n))
}

func (m *Metrics) mismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}

// observe records a snapshot of map statistics for a phase.
func (m *Metrics) observe(phase string, s *slotmap.MapStats) {
	if m == nil {
		return
	}
	m.capacity.WithLabelValues(phase).Set(float64(s.Capacity))
	m.size.WithLabelValues(phase).Set(float64(s.Size))
	m.tombstones.WithLabelValues(phase).Set(float64(s.Tombstones))
	m.growths.WithLabelValues(phase).Set(float64(s.TotalGrowths))
	m.compactions.WithLabelValues(phase).Set(float64(s.TotalCompactions))
	m.released.WithLabelValues(phase).Set(float64(s.ReleasedTables))
	m.retired.WithLabelValues(phase).Set(float64(s.RetiredTables))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes Handler on addr under /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrapf(err, "metrics server on %s", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
