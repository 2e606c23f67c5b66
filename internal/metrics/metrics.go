package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics for the market data engine
var (
	// Frame and record metrics
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_messages_received_total",
			Help: "Total number of raw frames received",
		},
		[]string{"venue"},
	)

	RecordsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_records_normalized_total",
			Help: "Total number of canonical records produced",
		},
		[]string{"venue", "kind"},
	)

	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_parse_errors_total",
			Help: "Total number of frames dropped as unparseable",
		},
		[]string{"venue"},
	)

	MessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "md_message_latency_seconds",
			Help:    "Latency from venue timestamp to local receipt",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"venue", "kind"},
	)

	// Connection metrics
	ConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "md_connection_status",
			Help: "Venue connection status (1=connected, 0=disconnected)",
		},
		[]string{"venue"},
	)

	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "md_active_connections",
			Help: "Open sockets per venue",
		},
		[]string{"venue"},
	)

	SubscriptionsDesired = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "md_subscriptions_desired",
			Help: "Registry desired-set size per venue",
		},
		[]string{"venue"},
	)

	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_reconnects_total",
			Help: "Total number of reconnection attempts",
		},
		[]string{"venue"},
	)

	ReconnectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_reconnect_failures_total",
			Help: "Reconnect sequences abandoned after max attempts",
		},
		[]string{"venue"},
	)

	WatchdogTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_watchdog_trips_total",
			Help: "Sockets closed by the data-starvation watchdog",
		},
		[]string{"venue"},
	)

	ConnectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_connection_errors_total",
			Help: "Total number of connection errors",
		},
		[]string{"venue", "error_type"},
	)

	// Store metrics
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_store_writes_total",
			Help: "External store operations attempted",
		},
		[]string{"op"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_store_errors_total",
			Help: "External store operations failed",
		},
		[]string{"op"},
	)

	StoreWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "md_store_write_duration_seconds",
			Help:    "Time spent on one external store operation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"op"},
	)

	// Feed metrics
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_events_dropped_total",
			Help: "In-process events dropped on full subscriber channels",
		},
		[]string{"kind"},
	)

	FundingDeduped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_funding_deduped_total",
			Help: "Funding updates suppressed as unchanged",
		},
		[]string{"venue"},
	)
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram
func (t *Timer) ObserveDuration(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// RecordMessage counts one inbound frame
func RecordMessage(venue string) {
	MessagesReceived.WithLabelValues(venue).Inc()
}

// RecordNormalized counts one canonical record and its venue-to-local latency
func RecordNormalized(venue, kind string, exchangeTS, localTS int64) {
	RecordsNormalized.WithLabelValues(venue, kind).Inc()
	if exchangeTS > 0 && localTS >= exchangeTS {
		MessageLatency.WithLabelValues(venue, kind).Observe(float64(localTS-exchangeTS) / 1000)
	}
}

// RecordParseError counts one dropped frame
func RecordParseError(venue string) {
	ParseErrors.WithLabelValues(venue).Inc()
}

// RecordConnectionStatus records connection status
func RecordConnectionStatus(venue string, connected bool) {
	status := 0.0
	if connected {
		status = 1.0
	}
	ConnectionStatus.WithLabelValues(venue).Set(status)
}

// RecordReconnect records a reconnection attempt
func RecordReconnect(venue string) {
	Reconnects.WithLabelValues(venue).Inc()
}

// RecordReconnectFailed records an abandoned reconnect sequence
func RecordReconnectFailed(venue string) {
	ReconnectFailures.WithLabelValues(venue).Inc()
}

// RecordWatchdogTrip records a starvation-forced close
func RecordWatchdogTrip(venue string) {
	WatchdogTrips.WithLabelValues(venue).Inc()
}

// RecordConnectionError records a connection error
func RecordConnectionError(venue, errorType string) {
	ConnectionErrors.WithLabelValues(venue, errorType).Inc()
}

// RecordStoreWrite records one store operation and its outcome
func RecordStoreWrite(op string, err error) {
	StoreWrites.WithLabelValues(op).Inc()
	if err != nil {
		StoreErrors.WithLabelValues(op).Inc()
	}
}

// RecordEventDropped counts one event lost to a slow subscriber
func RecordEventDropped(kind string) {
	EventsDropped.WithLabelValues(kind).Inc()
}

// RecordFundingDeduped counts one suppressed funding update
func RecordFundingDeduped(venue string) {
	FundingDeduped.WithLabelValues(venue).Inc()
}

// SetActiveConnections records the pool size for a venue
func SetActiveConnections(venue string, n int) {
	ActiveConnections.WithLabelValues(venue).Set(float64(n))
}

// SetSubscriptionsDesired records the registry size for a venue
func SetSubscriptionsDesired(venue string, n int) {
	SubscriptionsDesired.WithLabelValues(venue).Set(float64(n))
}

// Server starts the Prometheus metrics HTTP server
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a new metrics server
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Starting metrics server")
	return s.server.ListenAndServe()
}

// Stop stops the metrics server gracefully
func (s *Server) Stop() error {
	return s.server.Close()
}
