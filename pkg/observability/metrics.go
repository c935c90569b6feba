package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exposed on /metrics.
type Metrics struct {
	RequestDuration  *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	WorkflowTurns    *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	DocumentsIndexed prometheus.Counter
	SearchQueries    *prometheus.CounterVec
}

// NewMetrics registers the instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cognidesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cognidesk_http_requests_total",
			Help: "Total HTTP requests.",
		}, []string{"method", "path", "status"}),

		WorkflowTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cognidesk_workflow_turns_total",
			Help: "Completed workflow turns by route and agent.",
		}, []string{"route", "agent"}),

		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cognidesk_tool_calls_total",
			Help: "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),

		DocumentsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "cognidesk_documents_indexed_total",
			Help: "Documents accepted for indexing.",
		}),

		SearchQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cognidesk_search_queries_total",
			Help: "Search queries by type.",
		}, []string{"type"}),
	}
}
