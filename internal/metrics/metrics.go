package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	completionsMetricName        = "digimate_completions_total"
	completionDurationMetricName = "digimate_completion_duration_seconds"
	httpRequestsMetricName       = "digimate_http_requests_total"
	httpDurationMetricName       = "digimate_http_request_duration_seconds"
)

// OutcomeOK labels a completion that produced a reply.
const OutcomeOK = "ok"

var (
	// Completions counts completion calls by outcome: ok or the failure kind.
	Completions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: completionsMetricName,
		Help: "Completion API calls by outcome.",
	}, []string{"outcome"})

	CompletionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    completionDurationMetricName,
		Help:    "Time spent waiting on the completion API.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: httpRequestsMetricName,
		Help: "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    httpDurationMetricName,
		Help:    "HTTP request latency by route and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)
