/*
Package metrics exposes the server's operational counters (spec.md §6's
optional metrics surface): devices connected, commands dispatched, ping
watchdog timeouts. Wired with github.com/prometheus/client_golang, the
idiomatic way background Go services expose these (grounded on the
serviceradar repo's promauto-registered collector set). The collectors
are registered on Prometheus's default registry and exported as
prometheus types, which callers update directly.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DevicesConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buttplug",
		Name:      "devices_connected",
		Help:      "Number of devices currently connected to the server.",
	})

	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buttplug",
		Name:      "commands_dispatched_total",
		Help:      "Generic commands written to hardware, by kind.",
	}, []string{"kind"})

	PingTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buttplug",
		Name:      "ping_timeouts_total",
		Help:      "Sessions torn down for exceeding MaxPingTime.",
	})
)

// Handler returns the /metrics http.Handler for the process's default
// Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
