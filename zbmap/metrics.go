// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a map's stats as prometheus metrics. It reads counters
// the map maintains anyway, so collection never touches the stores, but it
// must still run on the goroutine that owns the map.
type Collector struct {
	m *ZbMap

	entries         *prometheus.Desc
	tableSize       *prometheus.Desc
	buckets         *prometheus.Desc
	overflowBuckets *prometheus.Desc
	loadFactor      *prometheus.Desc
	usedBytes       *prometheus.Desc
}

// NewCollector returns a Collector over m. name becomes the value of the
// "map" label on every metric.
func NewCollector(m *ZbMap, name string) *Collector {
	labels := prometheus.Labels{"map": name}
	return &Collector{
		m: m,
		entries: prometheus.NewDesc("zbmap_entries",
			"Number of entries in the map", nil, labels),
		tableSize: prometheus.NewDesc("zbmap_table_size",
			"Directory size in entries", nil, labels),
		buckets: prometheus.NewDesc("zbmap_buckets",
			"Number of primary buckets in the arena", nil, labels),
		overflowBuckets: prometheus.NewDesc("zbmap_overflow_buckets",
			"Number of overflow buckets in the arena", nil, labels),
		loadFactor: prometheus.NewDesc("zbmap_load_factor",
			"Used to allocated block byte ratio across primary buckets", nil, labels),
		usedBytes: prometheus.NewDesc("zbmap_used_bytes",
			"Arena bytes in use", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.tableSize
	ch <- c.buckets
	ch <- c.overflowBuckets
	ch <- c.loadFactor
	ch <- c.usedBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	arr := c.m.BucketArray()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue,
		float64(arr.BlockCount()))
	ch <- prometheus.MustNewConstMetric(c.tableSize, prometheus.GaugeValue,
		float64(c.m.TableSize()))
	ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.GaugeValue,
		float64(arr.BucketCount()))
	ch <- prometheus.MustNewConstMetric(c.overflowBuckets, prometheus.GaugeValue,
		float64(arr.OverflowBucketCount()))
	ch <- prometheus.MustNewConstMetric(c.loadFactor, prometheus.GaugeValue,
		arr.LoadFactor())
	ch <- prometheus.MustNewConstMetric(c.usedBytes, prometheus.GaugeValue,
		float64(arr.CountOfUsedBytes()))
}
