package repository

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "catalogue"
	subsystem = "repository"
)

var (
	inFlightDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "sessions_in_flight"),
		"The current number of open storage sessions.",
		nil, nil,
	)
	sessionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "sessions_total"),
		"The total number of finished storage sessions.",
		[]string{"result"}, nil,
	)
	retriesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "begin_retries_total"),
		"The total number of sessions retried after a lost connection.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (r *Repository) Describe(ch chan<- *prometheus.Desc) {
	ch <- inFlightDesc
	ch <- sessionsDesc
	ch <- retriesDesc
}

// Collect implements prometheus.Collector.
func (r *Repository) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(inFlightDesc, prometheus.GaugeValue, float64(r.inFlight.Load()))
	ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.CounterValue, float64(r.committed.Load()), "commit")
	ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.CounterValue, float64(r.rolledBack.Load()), "rollback")
	ch <- prometheus.MustNewConstMetric(retriesDesc, prometheus.CounterValue, float64(r.retries.Load()))
}

// check interfaces
var (
	_ prometheus.Collector = (*Repository)(nil)
)
