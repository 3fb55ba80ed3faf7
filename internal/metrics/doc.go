// Package metrics records pipeline run counters and gauges and writes them as
// a Prometheus textfile. Every series carries a mode label ("fit" or
// "apply").
package metrics
