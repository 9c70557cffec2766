package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Telegrams       *prometheus.CounterVec // result label: ok|decode_error|status_error|unknown_region|malformed
	EdgeSamples     prometheus.Counter
	EdgeDiscarded   prometheus.Counter
	PendingEvicted  prometheus.Counter
	IngestDuration  prometheus.Histogram
	Regions         prometheus.Gauge
	TrackedVehicles *prometheus.GaugeVec // region label

	Subscribers        prometheus.Gauge
	SubscribersEvicted *prometheus.CounterVec // reason label: write|read|closed
	BroadcastSent      prometheus.Counter
	BroadcastDuration  prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Telegrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sink_telegrams_total",
			Help: "Telegrams received, by outcome.",
		}, []string{"result"}),
		EdgeSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_edge_samples_total",
			Help: "Travel-time samples stored.",
		}),
		EdgeDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_edge_samples_discarded_total",
			Help: "Predecessor matches discarded because of out-of-order timestamps.",
		}),
		PendingEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_pending_evicted_total",
			Help: "Unmatched pending reports dropped by age or depth limits.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sink_ingest_duration_seconds",
			Help:    "Duration of one telegram's update and broadcast.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		Regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sink_regions",
			Help: "Number of regions loaded from the topology.",
		}),
		TrackedVehicles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sink_tracked_vehicles",
			Help: "Vehicles with a current report, by region.",
		}, []string{"region"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sink_subscribers",
			Help: "Live stream subscribers.",
		}),
		SubscribersEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sink_subscribers_evicted_total",
			Help: "Subscribers removed from the pool, by reason.",
		}, []string{"reason"}),
		BroadcastSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_broadcast_sent_total",
			Help: "Messages delivered to stream subscribers.",
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sink_broadcast_duration_seconds",
			Help:    "Duration of one publish pass over all subscribers.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_nats_published_total",
			Help: "Enriched reports re-published to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_nats_publish_errors_total",
			Help: "NATS re-publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sink_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		c.Telegrams, c.EdgeSamples, c.EdgeDiscarded, c.PendingEvicted,
		c.IngestDuration, c.Regions, c.TrackedVehicles,
		c.Subscribers, c.SubscribersEvicted, c.BroadcastSent, c.BroadcastDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
