package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal pipeline.
type Metrics struct {
	SamplesTotal   prometheus.Counter
	DefectsTotal   prometheus.Counter
	DroppedSamples prometheus.Counter
	FeedReconnects prometheus.Counter

	CandidatesTotal prometheus.Counter
	RejectionsTotal *prometheus.CounterVec // labels: filter
	SignalsTotal    *prometheus.CounterVec // labels: side
	TradesTotal     *prometheus.CounterVec // labels: status
	PendingSignals  prometheus.Gauge

	RedisPublishDur prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedEvents      prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapwatch_samples_total",
			Help: "Total market samples accepted into instrument windows",
		}),
		DefectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapwatch_defects_total",
			Help: "Total samples rejected as defective (missing mid, out of order)",
		}),
		DroppedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapwatch_dropped_samples_total",
			Help: "Total samples dropped on full channels",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapwatch_feed_reconnects_total",
			Help: "Total feed WebSocket reconnection attempts",
		}),
		CandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapwatch_candidates_total",
			Help: "Total reclaim candidates produced by the detector",
		}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trapwatch_rejections_total",
			Help: "Candidates rejected by admission filter",
		}, []string{"filter"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trapwatch_signals_total",
			Help: "Pending signals emitted",
		}, []string{"side"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trapwatch_trades_total",
			Help: "Signals resolved, by terminal status",
		}, []string{"status"}),
		PendingSignals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trapwatch_pending_signals",
			Help: "Currently open signals across all instruments",
		}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trapwatch_redis_publish_duration_seconds",
			Help:    "Redis event publish pipeline duration",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trapwatch_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit duration",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trapwatch_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapwatch_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trapwatch_redis_buffered_events_total",
			Help: "Events buffered locally while the Redis circuit was open",
		}),
	}

	prometheus.MustRegister(
		m.SamplesTotal, m.DefectsTotal, m.DroppedSamples, m.FeedReconnects,
		m.CandidatesTotal, m.RejectionsTotal, m.SignalsTotal, m.TradesTotal,
		m.PendingSignals,
		m.RedisPublishDur, m.SQLiteCommitDur,
		m.RedisCircuitBreakerState, m.RedisCircuitBreakerTrips, m.RedisBufferedEvents,
	)
	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastSampleTime time.Time `json:"last_sample_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.LastSampleTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	sampleAge := ""
	if !h.LastSampleTime.IsZero() {
		sampleAge = time.Since(h.LastSampleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastSampleTime  string  `json:"last_sample_time"`
		SampleAge       string  `json:"sample_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastSampleTime:  h.LastSampleTime.Format(time.RFC3339),
		SampleAge:       sampleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
