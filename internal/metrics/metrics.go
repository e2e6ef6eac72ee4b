// Package metrics exposes the core's Prometheus registry and the handful
// of counters/histograms the orchestrators and market data gateway record
// against it, generalized from the teacher's internal/metrics/metrics_module.go
// (a dedicated prometheus.Registry plus an fx-invoked HTTP handler, rather
// than registering straight onto the global default registry).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRegistry creates the process's Prometheus registry, kept separate
// from prometheus.DefaultRegisterer so tests can construct throwaway
// Recorders without colliding on global state.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Recorder is the narrow set of training/gateway signals the core emits.
// All methods are nil-receiver safe so components can hold a *Recorder
// that is simply unset in tests, rather than threading a no-op
// implementation everywhere.
type Recorder struct {
	trainingRuns     *prometheus.CounterVec
	trainingDuration prometheus.Histogram
	activeSessions   prometheus.Gauge
	gatewayRequests  *prometheus.CounterVec
}

// New registers and returns a Recorder bound to registry.
func New(registry *prometheus.Registry) *Recorder {
	r := &Recorder{
		trainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktrdr_training_runs_total",
			Help: "Training runs by terminal status.",
		}, []string{"status"}),
		trainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ktrdr_training_run_duration_seconds",
			Help:    "Wall-clock duration of completed training runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktrdr_training_sessions_active",
			Help: "Training sessions currently in flight (local or remote).",
		}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktrdr_marketdata_gateway_requests_total",
			Help: "Market data gateway fetches by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(r.trainingRuns, r.trainingDuration, r.activeSessions, r.gatewayRequests)
	return r
}

func (r *Recorder) RecordTrainingRun(status string) {
	if r == nil {
		return
	}
	r.trainingRuns.WithLabelValues(status).Inc()
}

func (r *Recorder) ObserveTrainingDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.trainingDuration.Observe(d.Seconds())
}

func (r *Recorder) SessionStarted() {
	if r == nil {
		return
	}
	r.activeSessions.Inc()
}

func (r *Recorder) SessionEnded() {
	if r == nil {
		return
	}
	r.activeSessions.Dec()
}

func (r *Recorder) RecordGatewayRequest(outcome string) {
	if r == nil {
		return
	}
	r.gatewayRequests.WithLabelValues(outcome).Inc()
}

// RegisterHandler exposes registry on addr via promhttp, started and
// stopped alongside the fx application lifecycle — the same shape as the
// teacher's RegisterMetricsHandler.
func RegisterHandler(lc fx.Lifecycle, registry *prometheus.Registry, logger *zap.Logger) {
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	server := &http.Server{Addr: ":9090", Handler: handler}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting metrics server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping metrics server")
			return server.Shutdown(ctx)
		},
	})
}
