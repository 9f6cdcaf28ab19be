// Package metrics holds the Prometheus instruments shared by the pipeline
// services. A single Registry is constructed per process and passed
// explicitly to each component; there are no ambient singletons.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every instrument the services emit.
type Registry struct {
	reg *prometheus.Registry

	// Ingest
	TradesIngested  prometheus.Counter
	TradesRejected  prometheus.Counter
	ArchiveSkipped  prometheus.Counter
	PublishFailed   prometheus.Counter
	IngestLatency   prometheus.Histogram

	// Hot path
	TradesApplied       prometheus.Counter
	CachePublishSkipped prometheus.Counter
	MarkLookups         *prometheus.CounterVec // labelled by waterfall tier
	OpenPositions       prometheus.Gauge
	ApplyLatency        prometheus.Histogram

	// Cold path
	TradesPersisted prometheus.Counter
	EnrichmentMiss  *prometheus.CounterVec // labelled by dictionary
	BatchRetries    prometheus.Counter
	BatchFlushes    *prometheus.CounterVec // labelled by trigger (size|age|drain)
	FlushLatency    prometheus.Histogram

	// DLQ
	DLQEnqueued      *prometheus.CounterVec // labelled by reason
	DLQEnqueueFailed prometheus.Counter

	// Breakers
	BreakerState *prometheus.GaugeVec // labelled by breaker name; 0 closed, 1 open, 2 half-open

	// Consumer
	OffsetCommits prometheus.Counter
	ConsumerLag   *prometheus.GaugeVec // labelled by partition
}

// New builds a Registry with every instrument registered on a private
// Prometheus registry.
func New(service string) *Registry {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Name: name, Help: help, ConstLabels: labels,
		})
		reg.MustRegister(c)
		return c
	}
	counterVec := func(name, help string, lbls ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name, Help: help, ConstLabels: labels,
		}, lbls)
		reg.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name, Help: help, ConstLabels: labels,
		})
		reg.MustRegister(g)
		return g
	}
	gaugeVec := func(name, help string, lbls ...string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name, Help: help, ConstLabels: labels,
		}, lbls)
		reg.MustRegister(g)
		return g
	}
	histogram := func(name, help string) prometheus.Histogram {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: name, Help: help, ConstLabels: labels,
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		})
		reg.MustRegister(h)
		return h
	}

	return &Registry{
		reg: reg,

		TradesIngested: counter("tradeflow_trades_ingested_total", "Trades validated and published to the trades log"),
		TradesRejected: counter("tradeflow_trades_rejected_total", "Trades rejected at ingest validation"),
		ArchiveSkipped: counter("tradeflow_archive_skipped_total", "Raw-trade archive writes skipped due to breaker or failure"),
		PublishFailed:  counter("tradeflow_publish_failed_total", "Trades log publishes that failed after retries"),
		IngestLatency:  histogram("tradeflow_ingest_latency_seconds", "Per-trade ingest pipeline latency"),

		TradesApplied:       counter("tradeflow_trades_applied_total", "Trades folded into hot-path position state"),
		CachePublishSkipped: counter("tradeflow_cache_publish_skipped_total", "Snapshot cache publishes skipped while the cache is unavailable"),
		MarkLookups:         counterVec("tradeflow_mark_lookups_total", "Mark-price waterfall resolutions by tier", "tier"),
		OpenPositions:       gauge("tradeflow_open_positions", "Distinct (trader, symbol) positions held in memory"),
		ApplyLatency:        histogram("tradeflow_apply_latency_seconds", "Per-trade hot-path apply latency"),

		TradesPersisted: counter("tradeflow_trades_persisted_total", "Enriched trades inserted into the relational store"),
		EnrichmentMiss:  counterVec("tradeflow_enrichment_miss_total", "Reference-data lookup misses by dictionary", "dictionary"),
		BatchRetries:    counter("tradeflow_batch_retries_total", "Bulk-insert retry attempts"),
		BatchFlushes:    counterVec("tradeflow_batch_flushes_total", "Cold-path buffer flushes by trigger", "trigger"),
		FlushLatency:    histogram("tradeflow_flush_latency_seconds", "Cold-path bulk insert latency"),

		DLQEnqueued:      counterVec("tradeflow_dlq_enqueued_total", "Envelopes written to the DLQ topic by reason", "reason"),
		DLQEnqueueFailed: counter("tradeflow_dlq_enqueue_failed_total", "DLQ publishes that themselves failed"),

		BreakerState: gaugeVec("tradeflow_breaker_state", "Circuit breaker state (0 closed, 1 open, 2 half-open)", "name"),

		OffsetCommits: counter("tradeflow_offset_commits_total", "Consumer offset commit batches"),
		ConsumerLag:   gaugeVec("tradeflow_consumer_lag", "Approximate records between last processed and high watermark", "partition"),
	}
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}
