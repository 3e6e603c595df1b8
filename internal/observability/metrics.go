package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "ws_connections", Help: "Currently open client connections"})
	BroadcastsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "broadcasts_total", Help: "Ride requests fanned out to drivers"})
	NotifiedDrivers   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "broadcast_notified_drivers", Help: "Drivers reached per broadcast", Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21}})
	ExpiriesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "expiries_total", Help: "Ride requests that expired unclaimed"})
	PresenceEvictions = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "presence_evictions_total", Help: "Stale presence entries evicted after the grace period"})

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "claims_total", Help: "Accept attempts by outcome"},
		[]string{"result"}, // won, lost, late, rolled_back
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
