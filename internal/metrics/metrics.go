// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts handled requests by route, method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptgate_http_requests_total",
		Help: "Handled HTTP requests.",
	}, []string{"route", "method", "status"})

	// HTTPDuration observes request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptgate_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// StoreFallbacks counts durable-store failures absorbed by the
	// in-memory fallback, by operation.
	StoreFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptgate_store_fallback_total",
		Help: "Durable store operations degraded to the in-memory store.",
	}, []string{"op"})

	// ToolDiscoveryFailures counts tool providers that failed discovery.
	ToolDiscoveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptgate_tool_discovery_failures_total",
		Help: "Tool provider discovery failures.",
	}, []string{"provider"})

	// GenerationSteps observes how many loop steps each generation took.
	GenerationSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "promptgate_generation_steps",
		Help:    "Tool-calling loop steps per generation request.",
		Buckets: []float64{1, 2, 3, 5, 8, 10},
	})
)
