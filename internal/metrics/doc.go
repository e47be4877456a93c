// Package metrics exposes cache and streaming statistics as Prometheus
// metrics. The collector polls stat snapshots on an interval, converts
// cumulative snapshot counters into Prometheus counters, and serves the
// standard /metrics endpoint.
package metrics
