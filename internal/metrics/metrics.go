// Package metrics registers the Prometheus gauges/counters the pump and
// jobs packages update, and serves /metrics and /healthcheck. Grounded on
// original_source/src/metrics.rs's lazy_static metric set and serve(), using
// github.com/prometheus/client_golang (the whole example
// pack's choice for metrics exposition).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GatewayEvents counts every dispatch republished to the broker, keyed
	// by event type and originating shard.
	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandwich_gateway_events_total",
		Help: "Dispatch payloads forwarded to the broker.",
	}, []string{"type", "shard"})

	// ShardEvents counts shard lifecycle transitions.
	ShardEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandwich_shard_events_total",
		Help: "Shard lifecycle transitions.",
	}, []string{"type"})

	// GatewayShards is the number of shards this process currently owns.
	GatewayShards = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandwich_gateway_shards",
		Help: "Shards owned by this process.",
	})

	// GatewayStatuses counts owned shards by connection stage.
	GatewayStatuses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sandwich_gateway_statuses",
		Help: "Owned shards grouped by connection stage.",
	}, []string{"status"})

	// GatewayLatencies is each shard's most recent heartbeat round-trip.
	GatewayLatencies = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sandwich_gateway_latency_ms",
		Help: "Most recent heartbeat latency per shard, in milliseconds.",
	}, []string{"shard"})

	// StateGuilds/Channels/Roles/Members mirror cache.rs's STATE_* gauges.
	StateGuilds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandwich_state_guilds", Help: "Guilds currently cached.",
	})
	StateChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandwich_state_channels", Help: "Channels currently cached.",
	})
	StateRoles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandwich_state_roles", Help: "Roles currently cached.",
	})
	StateMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandwich_state_members", Help: "Members currently cached.",
	})
)

// Serve starts the metrics/healthcheck/debug HTTP server and blocks until it
// exits. debug may be nil to disable the /debug/ surface. The bare net/http
// mux is deliberate: this is pure glue over promhttp's own handler, not a
// surface worth pulling in a router for (DESIGN.md records this as the one
// stdlib-by-necessity choice).
func Serve(addr string, debug http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK"}`))
	})
	if debug != nil {
		mux.Handle("/debug/", debug)
	}
	return http.ListenAndServe(addr, mux)
}
