package memory

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Store to Prometheus. Values are read at scrape time.
type Collector struct {
	store *Store

	errorCount  *prometheus.Desc
	stability   *prometheus.Desc
	deviation   *prometheus.Desc
	patterns    *prometheus.Desc
	historySize *prometheus.Desc
}

// NewCollector creates a Collector for store.
func NewCollector(store *Store) *Collector {
	return &Collector{
		store: store,
		errorCount: prometheus.NewDesc(
			prometheus.BuildFQName("autofixd", "memory", "error_count"),
			"Errors seen per classified error type",
			[]string{"type"}, nil,
		),
		stability: prometheus.NewDesc(
			prometheus.BuildFQName("autofixd", "memory", "stability_value"),
			"Current value of each stability metric",
			[]string{"key", "status"}, nil,
		),
		deviation: prometheus.NewDesc(
			prometheus.BuildFQName("autofixd", "memory", "balance_deviation"),
			"Distance of each balance metric from its target",
			[]string{"key"}, nil,
		),
		patterns: prometheus.NewDesc(
			prometheus.BuildFQName("autofixd", "memory", "pattern_value"),
			"Current value of each learned pattern",
			[]string{"key"}, nil,
		),
		historySize: prometheus.NewDesc(
			prometheus.BuildFQName("autofixd", "memory", "history_length"),
			"Entries currently held in the action history",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.errorCount
	ch <- c.stability
	ch <- c.deviation
	ch <- c.patterns
	ch <- c.historySize
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for typ, n := range s.errorCounts {
		ch <- prometheus.MustNewConstMetric(c.errorCount, prometheus.CounterValue, float64(n), typ)
	}
	for key, m := range s.stability {
		ch <- prometheus.MustNewConstMetric(c.stability, prometheus.GaugeValue, m.Value, key, string(m.Status))
	}
	for key, m := range s.balance {
		ch <- prometheus.MustNewConstMetric(c.deviation, prometheus.GaugeValue, m.Deviation, key)
	}
	for key, p := range s.patterns {
		ch <- prometheus.MustNewConstMetric(c.patterns, prometheus.GaugeValue, p.Value, key)
	}
	ch <- prometheus.MustNewConstMetric(c.historySize, prometheus.GaugeValue, float64(s.history.len()))
}
