// Package metric provides Prometheus metrics for capsuled.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: metric registry and instrument definitions
//   - server.go: HTTP server exposing /metrics
//
// Metrics include:
//
//   - Active and total connection gauges/counters
//   - Request counters labeled by response status
//   - Request latency histograms
//   - Body bytes served
//
// Metrics are exposed at /metrics in Prometheus format on a separate
// listener, never on the content port itself.
package metric
