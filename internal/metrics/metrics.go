// Package metrics exposes prometheus collectors for agentlink.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamReconnects counts transient stream failures followed by a reconnect.
	StreamReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlink_stream_reconnects_total",
			Help: "Total number of stream reconnect attempts",
		},
		[]string{"stream"},
	)

	// StreamBatches counts items applied from agent streams.
	StreamBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlink_stream_batches_total",
			Help: "Total number of stream items applied",
		},
		[]string{"stream"},
	)

	// AttachedAgents tracks agents with a live attachment.
	AttachedAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentlink_attached_agents",
			Help: "Number of attached agents",
		},
	)

	// QuestionResponses counts response submissions by outcome.
	QuestionResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlink_question_responses_total",
			Help: "Total number of question response submissions",
		},
		[]string{"outcome"},
	)

	// ViewerConnections tracks open renderer websocket connections.
	ViewerConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentlink_viewer_connections",
			Help: "Number of open viewer websocket connections",
		},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
