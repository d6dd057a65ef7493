// Package metrics defines the Prometheus collectors for the realtime
// distribution path. All collectors are registered via promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics
var (
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Current number of live WebSocket connections",
		},
	)

	HubRoomOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_room_occupancy",
			Help: "Current number of clients per room kind (prices/wallet)",
		},
		[]string{"kind"},
	)

	HubBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Events emitted to rooms by room kind",
		},
		[]string{"kind"},
	)

	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	HubUnattachedDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_unattached_drops_total",
			Help: "Broadcast calls dropped because no hub was attached yet",
		},
	)
)

// Pub/sub bridge metrics
var (
	PubSubMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_messages_received_total",
			Help: "Messages received from the pub/sub backend by channel",
		},
		[]string{"channel"},
	)

	PubSubMalformedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_malformed_messages_total",
			Help: "Undecodable pub/sub payloads dropped by channel",
		},
		[]string{"channel"},
	)

	PubSubPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_publish_errors_total",
			Help: "Failed publishes to the pub/sub backend by channel",
		},
		[]string{"channel"},
	)
)

// Price tick scheduler metrics
var (
	PriceTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_tick_duration_seconds",
			Help:    "Duration of one price refresh tick",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	PriceTickErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "price_tick_errors_total",
			Help: "Price refresh ticks that failed to fetch prices",
		},
	)
)

// Portfolio service metrics
var (
	PortfolioCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portfolio_cache_hits_total",
			Help: "Portfolio snapshot requests served from the TTL cache",
		},
	)

	PortfolioCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portfolio_cache_misses_total",
			Help: "Portfolio snapshot requests that went to the source",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route", "status"},
	)

	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by error kind",
		},
		[]string{"kind"},
	)
)
