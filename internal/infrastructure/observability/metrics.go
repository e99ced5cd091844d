package observability

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Счётчик вызовов методов хранилища
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository and local store method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository and local store method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Глубина очереди отложенных операций
	PendingOperations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_operations",
			Help: "Number of queued operations waiting for replay",
		},
	)

	SyncReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_replays_total",
			Help: "Replayed pending operations by result",
		},
		[]string{"result"},
	)

	SyncDrains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_drains_total",
			Help: "Drain passes by trigger, including coalesced ones",
		},
		[]string{"trigger", "outcome"},
	)

	InterceptedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interceptor_requests_total",
			Help: "Requests resolved by the interception layer",
		},
		[]string{"class", "outcome"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications by result",
		},
		[]string{"result"},
	)
)

// ObserveCall records a store call with a success/error status label.
func ObserveCall(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RepositoryCalls.WithLabelValues(method, status).Inc()
	RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func InitMetrics(addr string) {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		PendingOperations,
		SyncReplays,
		SyncDrains,
		InterceptedRequests,
		Notifications,
	)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
}
