// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and a terminal spinner.
package sinks
