// Package metrics provides Prometheus instrumentation for the Parley chat
// relay. It exposes gauges for connection and session counts, counters for
// message throughput, and histograms for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// SessionsTotal tracks the current number of authenticated sessions.
	SessionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sessions_total",
		Help: "Current number of authenticated user sessions",
	})

	// MessagesTotal counts processed messages, labeled by kind: "room",
	// "private", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_total",
		Help: "Total number of messages processed",
	}, []string{"kind"})

	// ReactionsTotal counts reaction toggles.
	ReactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_reactions_total",
		Help: "Total number of reaction toggles applied",
	})

	// BroadcastLatency records room fan-out latency in seconds, measured from
	// state mutation to the last member push.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_broadcast_latency_seconds",
		Help:    "Room broadcast fan-out latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
	})

	// RoomMembers tracks the current member count per room.
	RoomMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parley_room_members",
		Help: "Current number of members per room",
	}, []string{"room"})

	// UploadsTotal counts file uploads, labeled by outcome: "ok" or "rejected".
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_uploads_total",
		Help: "Total number of file upload attempts",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SessionsTotal,
		MessagesTotal,
		ReactionsTotal,
		BroadcastLatency,
		RoomMembers,
		UploadsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
