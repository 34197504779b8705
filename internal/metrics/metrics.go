// Package metrics exposes discovery activity as Prometheus metrics.
//
// A Collector subscribes to a discovery service and keeps a gauge of known
// peers, a running flag, and per-kind event and error counters:
//
//	qopy_discovery_peers
//	qopy_discovery_running
//	qopy_discovery_events_total{kind="peer_discovered"}
//	qopy_discovery_errors_total{kind="address_resolution"}
//	qopy_discovery_events_missed
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

const (
	namespace = "qopy"
	subsystem = "discovery"
)

// Source is the part of discovery.Service the collector reads.
type Source interface {
	PeerCount() int
	Subscribe() *discovery.Subscription
	Running() bool
}

// Collector owns a private registry with the discovery metrics and the
// standard Go and process collectors.
type Collector struct {
	registry *prometheus.Registry

	peers   prometheus.Gauge
	running prometheus.Gauge
	missed  prometheus.Gauge
	events  *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

// New creates a collector and registers its metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers",
			Help:      "Number of peers currently in the registry.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "running",
			Help:      "1 while the discovery service is running.",
		}),
		missed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_missed",
			Help:      "Events dropped from the metrics subscription because it lagged.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Discovery events observed, by kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Background discovery errors, by error kind.",
		}, []string{"kind"}),
	}

	c.registry.MustRegister(
		c.peers, c.running, c.missed, c.events, c.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe updates the metrics for one event. peerCount is the registry size
// after the event.
func (c *Collector) Observe(ev discovery.PeerEvent, peerCount int) {
	c.events.WithLabelValues(ev.Kind.String()).Inc()
	c.peers.Set(float64(peerCount))

	switch ev.Kind {
	case discovery.ServiceStarted:
		c.running.Set(1)
	case discovery.ServiceStopped:
		c.running.Set(0)
	case discovery.EventError:
		kind := ev.ErrorKind().String()
		if kind == "" {
			kind = "unknown"
		}
		c.errors.WithLabelValues(kind).Inc()
	}
}

// Run feeds the collector from src until ctx is done or the subscription
// is closed.
func (c *Collector) Run(ctx context.Context, src Source) {
	sub := src.Subscribe()
	defer sub.Close()

	c.peers.Set(float64(src.PeerCount()))
	if src.Running() {
		c.running.Set(1)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			c.Observe(ev, src.PeerCount())
			c.missed.Set(float64(sub.Missed()))
		}
	}
}
