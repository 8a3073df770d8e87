package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/coinratio/internal/market"
)

// MetricsRegistry holds the Prometheus metrics for the refresh loop and the
// market data cache. It satisfies scheduler.Recorder.
type MetricsRegistry struct {
	registry *prometheus.Registry

	RefreshDuration *prometheus.HistogramVec
	Refreshes       *prometheus.CounterVec
	TicksSkipped    prometheus.Counter
	SnapshotEntries prometheus.Gauge
	LastSuccess     prometheus.Gauge

	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheHitRatio prometheus.Gauge
}

func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		RefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinratio_refresh_duration_seconds",
				Help:    "Duration of one fetch and rank cycle in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"result"},
		),

		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinratio_refreshes_total",
				Help: "Refresh cycles by result and failure reason",
			},
			[]string{"result", "reason"},
		),

		TicksSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coinratio_ticks_skipped_total",
				Help: "Ticks skipped because a refresh was still in flight",
			},
		),

		SnapshotEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinratio_snapshot_entries",
				Help: "Number of coins in the published ranking",
			},
		),

		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinratio_last_success_timestamp_seconds",
				Help: "Unix time of the last published ranking",
			},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coinratio_cache_hits_total",
				Help: "Market data responses served from cache",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coinratio_cache_misses_total",
				Help: "Market data responses fetched from upstream",
			},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinratio_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),
	}

	m.registry.MustRegister(
		m.RefreshDuration,
		m.Refreshes,
		m.TicksSkipped,
		m.SnapshotEntries,
		m.LastSuccess,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRatio,
	)

	return m
}

func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsRegistry) RefreshSucceeded(d time.Duration, entries int) {
	m.RefreshDuration.WithLabelValues("success").Observe(d.Seconds())
	m.Refreshes.WithLabelValues("success", "none").Inc()
	m.SnapshotEntries.Set(float64(entries))
	m.LastSuccess.Set(float64(time.Now().Unix()))
}

func (m *MetricsRegistry) RefreshFailed(d time.Duration, err error) {
	reason := "unknown"
	var dse *market.DataSourceError
	if errors.As(err, &dse) {
		reason = dse.Reason
	}
	m.RefreshDuration.WithLabelValues("failure").Observe(d.Seconds())
	m.Refreshes.WithLabelValues("failure", reason).Inc()
}

func (m *MetricsRegistry) TickSkipped() {
	m.TicksSkipped.Inc()
}

func (m *MetricsRegistry) CacheHit() {
	m.CacheHits.Inc()
	m.updateCacheHitRatio()
}

func (m *MetricsRegistry) CacheMiss() {
	m.CacheMisses.Inc()
	m.updateCacheHitRatio()
}

func (m *MetricsRegistry) updateCacheHitRatio() {
	hits, misses := counterValue(m.CacheHits), counterValue(m.CacheMisses)
	if total := hits + misses; total > 0 {
		m.CacheHitRatio.Set(hits / total)
	}
}

func counterValue(c prometheus.Counter) float64 {
	metric := &io_prometheus_client.Metric{}
	if err := c.Write(metric); err != nil {
		log.Debug().Err(err).Msg("Failed to read counter")
		return 0
	}
	return metric.GetCounter().GetValue()
}
