// Package sinks contains runlog.Sink implementations for the crawl_logs
// table, the process logger, and Prometheus.
package sinks
