// Package metrics exposes Prometheus instrumentation for optimization
// calls, analysis runs and history size.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promptbridge"

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	optimizeTotal    *prometheus.CounterVec
	optimizeDuration *prometheus.HistogramVec
	analysisTotal    prometheus.Counter
	staleResponses   prometheus.Counter
	historyRecords   prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		optimizeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimize_total",
			Help:      "Optimization calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		optimizeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimize_duration_seconds",
			Help:      "Latency of optimization calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		analysisTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_total",
			Help:      "Heuristic analyses computed.",
		}),
		staleResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Optimization responses discarded because the session moved on.",
		}),
		historyRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_records",
			Help:      "Records currently held in history.",
		}),
	}
}

func (m *Metrics) ObserveOptimize(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.optimizeTotal.WithLabelValues(provider, outcome).Inc()
	m.optimizeDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) IncAnalysis() {
	if m == nil {
		return
	}
	m.analysisTotal.Inc()
}

func (m *Metrics) IncStaleResponse() {
	if m == nil {
		return
	}
	m.staleResponses.Inc()
}

func (m *Metrics) SetHistoryRecords(n int) {
	if m == nil {
		return
	}
	m.historyRecords.Set(float64(n))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Debug("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
