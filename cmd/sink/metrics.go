package main

import (
	"strconv"
	"time"

	"telegram-sink/internal/broadcast"
	"telegram-sink/internal/ingest"
	"telegram-sink/internal/metrics"
	"telegram-sink/internal/publisher"
)

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()  { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc() { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapPoolMetrics(c *metrics.Collector) broadcast.Metrics {
	if c == nil {
		return nil
	}
	return &poolMetrics{c: c}
}

type poolMetrics struct{ c *metrics.Collector }

func (p *poolMetrics) SubscribersSet(n int)             { p.c.Subscribers.Set(float64(n)) }
func (p *poolMetrics) SubscriberEvicted(reason string)  { p.c.SubscribersEvicted.WithLabelValues(reason).Inc() }
func (p *poolMetrics) BroadcastSent()                   { p.c.BroadcastSent.Inc() }
func (p *poolMetrics) BroadcastObserve(d time.Duration) { p.c.BroadcastDuration.Observe(d.Seconds()) }

func wrapIngestMetrics(c *metrics.Collector) ingest.Metrics {
	if c == nil {
		return nil
	}
	return &ingestMetrics{c: c}
}

type ingestMetrics struct{ c *metrics.Collector }

func (m *ingestMetrics) TelegramResult(result string)  { m.c.Telegrams.WithLabelValues(result).Inc() }
func (m *ingestMetrics) PendingEvicted(n int)          { m.c.PendingEvicted.Add(float64(n)) }
func (m *ingestMetrics) IngestObserve(d time.Duration) { m.c.IngestDuration.Observe(d.Seconds()) }
func (m *ingestMetrics) EdgeSample(stored bool) {
	if stored {
		m.c.EdgeSamples.Inc()
	} else {
		m.c.EdgeDiscarded.Inc()
	}
}
func (m *ingestMetrics) VehiclesTracked(region, n int) {
	m.c.TrackedVehicles.WithLabelValues(strconv.Itoa(region)).Set(float64(n))
}
