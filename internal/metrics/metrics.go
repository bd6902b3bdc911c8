// Package metrics exposes engine counters in the Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockline"

// Turn results recorded on TurnsTotal.
const (
	ResultOK       = "ok"
	ResultReprompt = "reprompt"
	ResultError    = "error"
)

// Metrics holds the collectors updated by the dispatcher.
//
// A nil *Metrics is valid and records nothing, so callers that do not care
// about metrics can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
	commits      *prometheus.CounterVec
	errors       *prometheus.CounterVec
	expired      prometheus.Counter
	swept        prometheus.Counter
	queued       prometheus.Gauge
}

// New creates Metrics registered on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns handled, by flow at the start of the turn and result.",
		}, []string{"flow", "result"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to handle one conversation turn.",
			Buckets:   prometheus.DefBuckets,
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Stock and order commits, by kind and result.",
		}, []string{"kind", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by code.",
		}, []string{"code"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions reset on access after the idle window.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Idle sessions removed by the sweeper.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_turns",
			Help:      "Turns waiting for their identity's worker.",
		}),
	}
	reg.MustRegister(
		m.turns, m.turnDuration, m.commits, m.errors, m.expired, m.swept, m.queued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Turn records one handled turn.
func (m *Metrics) Turn(flow, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(flow, result).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// Commit records one commit attempt.
func (m *Metrics) Commit(kind string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.commits.WithLabelValues(kind, result).Inc()
}

// Error records an error by code.
func (m *Metrics) Error(code string) {
	if m == nil || code == "" {
		return
	}
	m.errors.WithLabelValues(code).Inc()
}

// Expired records a session reset after the idle window.
func (m *Metrics) Expired() {
	if m == nil {
		return
	}
	m.expired.Inc()
}

// Swept records n sessions removed by the sweeper.
func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

// QueueDelta adjusts the queued turns gauge.
func (m *Metrics) QueueDelta(d int) {
	if m == nil {
		return
	}
	m.queued.Add(float64(d))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
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
	logger.Info("metrics listening", "addr", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
