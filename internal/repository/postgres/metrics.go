package postgres

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "catalogue"
	subsystem = "postgres_pool"
)

// Describe implements prometheus.Collector.
func (db *DB) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(db, ch)
}

// Collect implements prometheus.Collector.
func (db *DB) Collect(ch chan<- prometheus.Metric) {
	stat := db.pool.Stat()

	gauges := []struct {
		name, help string
		v          int32
	}{
		{"max_conns", "Maximum size of the pool.", stat.MaxConns()},
		{"total_conns", "Current number of connections in the pool.", stat.TotalConns()},
		{"acquired_conns", "Number of connections currently in use.", stat.AcquiredConns()},
		{"idle_conns", "Number of idle connections.", stat.IdleConns()},
	}

	for _, g := range gauges {
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, g.name), g.help, nil, nil),
			prometheus.GaugeValue,
			float64(g.v),
		)
	}

	counters := []struct {
		name, help string
		v          int64
	}{
		{"acquires_total", "Total number of successful acquires.", stat.AcquireCount()},
		{"empty_acquires_total", "Total number of acquires that waited for a connection.", stat.EmptyAcquireCount()},
		{"canceled_acquires_total", "Total number of acquires canceled by context.", stat.CanceledAcquireCount()},
		{"new_conns_total", "Total number of connections opened.", stat.NewConnsCount()},
	}

	for _, c := range counters {
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, c.name), c.help, nil, nil),
			prometheus.CounterValue,
			float64(c.v),
		)
	}
}

// check interfaces
var (
	_ prometheus.Collector = (*DB)(nil)
)
