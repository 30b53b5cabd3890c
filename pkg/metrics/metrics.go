// Package metrics exposes the optional Prometheus counters submission
// progress feeds into, grounded on boskos/metrics/metrics.go's
// resource-state gauges -- here a single CounterVec keyed by event
// kind rather than per-resource gauges, since repx has one event
// stream rather than one gauge per leasable resource type.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// EventsTotal counts every submission event by kind, labeled with the
// Kind.String() name (see pkg/events).
var EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "repx_submission_events_total",
	Help: "Number of submission progress events emitted, by kind.",
}, []string{"kind"})

func init() {
	prometheus.MustRegister(EventsTotal)
}

// Serve starts a blocking HTTP server exposing /metrics on addr,
// mirroring cmd/metrics/metrics.go's promhttp.Handler() wiring.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logrus.WithField("addr", addr).Info("serving prometheus metrics")
	return http.ListenAndServe(addr, mux)
}
