package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingestion Metrics
	webhookEntriesTotal         *prometheus.CounterVec
	transactionsClassifiedTotal *prometheus.CounterVec
	ledgerWritesTotal           *prometheus.CounterVec

	// Graph and aggregation Metrics
	graphQueryDuration    *prometheus.HistogramVec
	graphEdgesDiscovered  *prometheus.HistogramVec
	balanceAggregations   *prometheus.HistogramVec
	dataIntegrityWarnings *prometheus.CounterVec

	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		webhookEntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_entries_total",
				Help: "Total number of webhook entries received by outcome",
			},
			[]string{"outcome"},
		),
		transactionsClassifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_classified_total",
				Help: "Total number of raw transactions classified by resulting type or failure reason",
			},
			[]string{"result"},
		),
		ledgerWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_writes_total",
				Help: "Total number of ledger appends by transaction type and status",
			},
			[]string{"type", "status"},
		),

		graphQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graph_query_duration_seconds",
				Help:    "Duration of neighbour graph traversals in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"direction", "status"},
		),
		graphEdgesDiscovered: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graph_edges_discovered",
				Help:    "Number of distinct edges discovered per traversal",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"direction"},
		),
		balanceAggregations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balance_aggregation_duration_seconds",
				Help:    "Duration of balance aggregation queries in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"source", "status"},
		),
		dataIntegrityWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "data_integrity_warnings_total",
				Help: "Total number of lookups that found no data for an address that should have some",
			},
			[]string{"stage"},
		),

		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ingestion metric helpers

// RecordWebhookEntry records the outcome of one webhook entry.
func (m *Metrics) RecordWebhookEntry(outcome string) {
	if m == nil {
		return
	}
	m.webhookEntriesTotal.WithLabelValues(outcome).Inc()
}

// RecordClassification records a classification result: the transaction
// type on success, or a short failure reason.
func (m *Metrics) RecordClassification(result string) {
	if m == nil {
		return
	}
	m.transactionsClassifiedTotal.WithLabelValues(result).Inc()
}

// RecordLedgerWrite records a ledger append attempt.
func (m *Metrics) RecordLedgerWrite(txType, status string) {
	if m == nil {
		return
	}
	m.ledgerWritesTotal.WithLabelValues(txType, status).Inc()
}

// Graph metric helpers

// RecordGraphQuery records one directional traversal.
func (m *Metrics) RecordGraphQuery(direction string, duration float64, edges int, err error) {
	if m == nil {
		return
	}
	m.graphQueryDuration.WithLabelValues(direction, statusFromError(err)).Observe(duration)
	if err == nil {
		m.graphEdgesDiscovered.WithLabelValues(direction).Observe(float64(edges))
	}
}

// RecordBalanceAggregation records one aggregation query.
func (m *Metrics) RecordBalanceAggregation(source string, duration float64, err error) {
	if m == nil {
		return
	}
	m.balanceAggregations.WithLabelValues(source, statusFromError(err)).Observe(duration)
}

// RecordDataIntegrityWarning records a missing join that was dropped.
func (m *Metrics) RecordDataIntegrityWarning(stage string) {
	if m == nil {
		return
	}
	m.dataIntegrityWarnings.WithLabelValues(stage).Inc()
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, statusFromError(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusFromError(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
