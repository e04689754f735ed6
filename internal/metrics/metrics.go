package metrics

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the symbol registry.
type Metrics struct {
	Instruments     prometheus.Gauge
	CacheGeneration prometheus.Gauge
	RebuildDur      prometheus.Histogram
	StoreReplaceDur prometheus.Histogram

	// Refresh pipeline
	RefreshTotal     *prometheus.CounterVec   // labels: outcome=success|aborted|source_unavailable|busy|failed
	RefreshDur       prometheus.Histogram     // whole refresh, fetch to publish
	RejectedRows     *prometheus.CounterVec   // labels: reason
	DuplicateRows    *prometheus.CounterVec   // labels: kind=token|symbol
	UnmappedRows     *prometheus.CounterVec   // labels: exchange
	SourceFetchDur   *prometheus.HistogramVec // labels: source
	SourceFailures   *prometheus.CounterVec   // labels: source
	LastRefreshEpoch prometheus.Gauge

	// Lookup facade
	Lookups *prometheus.CounterVec // labels: op, result=hit|miss|fallback

	// Refresh-event publisher circuit breaker
	PublisherBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	PublisherBreakerTrips prometheus.Counter
}

// NewMetrics creates all collectors and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Instruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symreg_instruments",
			Help: "Instruments in the published resolution cache",
		}),
		CacheGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symreg_cache_generation",
			Help: "Generation of the published resolution cache",
		}),
		RebuildDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "symreg_cache_rebuild_duration_seconds",
			Help:    "Time to build and publish a cache snapshot",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		StoreReplaceDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "symreg_store_replace_duration_seconds",
			Help:    "Registry store bulk replace latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symreg_refresh_total",
			Help: "Refresh attempts by outcome",
		}, []string{"outcome"}),
		RefreshDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "symreg_refresh_duration_seconds",
			Help:    "End-to-end refresh latency",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		RejectedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symreg_rejected_rows_total",
			Help: "Raw rows rejected during normalization",
		}, []string{"reason"}),
		DuplicateRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symreg_duplicate_rows_total",
			Help: "Normalized rows dropped as duplicates",
		}, []string{"kind"}),
		UnmappedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symreg_unmapped_exchange_rows_total",
			Help: "Rows whose exchange/segment had no mapping and passed through",
		}, []string{"exchange"}),
		SourceFetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "symreg_source_fetch_duration_seconds",
			Help:    "Contract feed fetch latency",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symreg_source_failures_total",
			Help: "Contract feed sources that failed or timed out",
		}, []string{"source"}),
		LastRefreshEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symreg_last_successful_refresh_timestamp_seconds",
			Help: "Unix time of the last successful refresh",
		}),

		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symreg_lookups_total",
			Help: "Lookup facade calls by operation and result",
		}, []string{"op", "result"}),

		PublisherBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symreg_publisher_circuit_breaker_state",
			Help: "Refresh-event publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		PublisherBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symreg_publisher_circuit_breaker_trips_total",
			Help: "Times the refresh-event publisher circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.Instruments,
		m.CacheGeneration,
		m.RebuildDur,
		m.StoreReplaceDur,
		m.RefreshTotal,
		m.RefreshDur,
		m.RejectedRows,
		m.DuplicateRows,
		m.UnmappedRows,
		m.SourceFetchDur,
		m.SourceFailures,
		m.LastRefreshEpoch,
		m.Lookups,
		m.PublisherBreakerState,
		m.PublisherBreakerTrips,
	)

	return m
}

// Pinger is anything with a reachability probe (registry stores).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	StoreOK         bool      `json:"store_ok"`
	StoreLatencyMs  float64   `json:"store_latency_ms"`
	RedisEnabled    bool      `json:"redis_enabled"`
	RedisConnected  bool      `json:"redis_connected"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	CacheWarm       bool      `json:"cache_warm"`
	CacheGeneration uint64    `json:"cache_generation"`
	Instruments     int       `json:"instruments"`
	LastRefreshAt   time.Time `json:"last_refresh_at"`
	LastRefreshOK   bool      `json:"last_refresh_ok"`
	LastRefreshErr  string    `json:"last_refresh_error"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// SetCache records the published cache state.
func (h *HealthStatus) SetCache(warm bool, generation uint64, instruments int) {
	h.mu.Lock()
	h.CacheWarm = warm
	h.CacheGeneration = generation
	h.Instruments = instruments
	h.mu.Unlock()
}

// SetRefresh records the outcome of the latest refresh attempt.
func (h *HealthStatus) SetRefresh(at time.Time, err error) {
	h.mu.Lock()
	h.LastRefreshAt = at
	h.LastRefreshOK = err == nil
	h.LastRefreshErr = ""
	if err != nil {
		h.LastRefreshErr = err.Error()
	}
	h.mu.Unlock()
}

// CheckStore pings the registry store and records latency + health.
func (h *HealthStatus) CheckStore(ctx context.Context, store Pinger) {
	start := time.Now()
	err := store.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, store Pinger, rdb *goredis.Client, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if store != nil {
			h.CheckStore(probeCtx, store)
		}
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
	}
	probe()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// Status computes the overall status string and HTTP code.
// A warm cache keeps serving lookups even when the store is down, so
// that case is degraded rather than unhealthy.
func (h *HealthStatus) Status() (string, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case !h.StoreOK && !h.CacheWarm:
		return "unhealthy", http.StatusServiceUnavailable
	case !h.StoreOK, !h.CacheWarm, (h.RedisEnabled && !h.RedisConnected):
		return "degraded", http.StatusServiceUnavailable
	case !h.LastRefreshAt.IsZero() && !h.LastRefreshOK:
		// previous set still in service
		return "degraded", http.StatusOK
	}
	return "healthy", http.StatusOK
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overallStatus, httpCode := h.Status()

	h.mu.RLock()
	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StoreOK         bool    `json:"store_ok"`
		StoreLatencyMs  float64 `json:"store_latency_ms"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		CacheWarm       bool    `json:"cache_warm"`
		CacheGeneration uint64  `json:"cache_generation"`
		Instruments     int     `json:"instruments"`
		LastRefreshAt   string  `json:"last_refresh_at,omitempty"`
		LastRefreshOK   bool    `json:"last_refresh_ok"`
		LastRefreshErr  string  `json:"last_refresh_error,omitempty"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StoreOK:         h.StoreOK,
		StoreLatencyMs:  h.StoreLatencyMs,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		CacheWarm:       h.CacheWarm,
		CacheGeneration: h.CacheGeneration,
		Instruments:     h.Instruments,
		LastRefreshOK:   h.LastRefreshOK,
		LastRefreshErr:  h.LastRefreshErr,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if !h.LastRefreshAt.IsZero() {
		status.LastRefreshAt = h.LastRefreshAt.Format(time.RFC3339)
	}
	h.mu.RUnlock()

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
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
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
