// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import "github.com/prometheus/client_golang/prometheus"

// PoolStatsCollector exports a pool's counters as Prometheus metrics.
// Register it with a prometheus.Registerer:
//
//	prometheus.MustRegister(dbx.NewPoolStatsCollector(db.Pool(), "myapp"))
type PoolStatsCollector struct {
	pool *Pool

	total    *prometheus.Desc
	idle     *prometheus.Desc
	inUse    *prometheus.Desc
	acquires *prometheus.Desc
	reuses   *prometheus.Desc
	creates  *prometheus.Desc
	discards *prometheus.Desc
	timeouts *prometheus.Desc
	waits    *prometheus.Desc
}

// NewPoolStatsCollector creates a collector for the pool under the given
// metric namespace. An empty namespace defaults to "dbx".
func NewPoolStatsCollector(pool *Pool, namespace string) *PoolStatsCollector {
	if namespace == "" {
		namespace = "dbx"
	}
	labels := prometheus.Labels{"scheme": pool.scheme}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, nil, labels)
	}
	return &PoolStatsCollector{
		pool:     pool,
		total:    desc("connections_total", "Connections created and not discarded"),
		idle:     desc("connections_idle", "Connections sitting in the free set"),
		inUse:    desc("connections_in_use", "Connections currently checked out"),
		acquires: desc("acquires_total", "Successful connection checkouts"),
		reuses:   desc("statement_reuses_total", "Checkouts satisfied by a preferred connection"),
		creates:  desc("creates_total", "Connections built"),
		discards: desc("discards_total", "Connections torn down"),
		timeouts: desc("checkout_timeouts_total", "Checkouts that failed with a timeout"),
		waits:    desc("checkout_waits_total", "Checkouts that parked on a saturated pool"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.idle
	ch <- c.inUse
	ch <- c.acquires
	ch <- c.reuses
	ch <- c.creates
	ch <- c.discards
	ch <- c.timeouts
	ch <- c.waits
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.Acquires))
	ch <- prometheus.MustNewConstMetric(c.reuses, prometheus.CounterValue, float64(s.Reuses))
	ch <- prometheus.MustNewConstMetric(c.creates, prometheus.CounterValue, float64(s.Creates))
	ch <- prometheus.MustNewConstMetric(c.discards, prometheus.CounterValue, float64(s.Discards))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.Waits))
}
