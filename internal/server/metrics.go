package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathsense_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathsense_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	analyzeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathsense_analyze_requests_total",
			Help: "Analyze requests by response status code",
		},
		[]string{"status"},
	)

	directivesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathsense_directives_served_total",
			Help: "Directives returned to HTTP and stream clients",
		},
		[]string{"kind"},
	)

	uploadSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pathsense_upload_size_bytes",
			Help:    "Size of uploaded analyze requests in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathsense_rate_limit_hits_total",
			Help: "Requests rejected by the per-client rate limit",
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathsense_websocket_connections",
			Help: "Number of open stream connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathsense_websocket_messages_total",
			Help: "Stream messages by direction",
		},
		[]string{"direction"},
	)
)
