// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LiveSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_live_subscriptions",
			Help: "Open live subscriptions by kind.",
		},
		[]string{"kind"},
	)
	SharedReactionFeeds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_reaction_feeds",
			Help: "Backend reaction subscriptions currently shared between subscribers.",
		},
	)
	ReactionToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reaction_toggles_total",
			Help: "Reaction toggles by resulting action.",
		},
		[]string{"action"},
	)
	PresenceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Presence writes by state and whether the close was forced.",
		},
		[]string{"state", "forced"},
	)
	SearchQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_search_queries_total",
			Help: "Search evaluations by context.",
		},
		[]string{"context"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		LiveSubscriptions,
		SharedReactionFeeds,
		ReactionToggles,
		PresenceTransitions,
		SearchQueries,
		HTTPRequests,
		HTTPDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
