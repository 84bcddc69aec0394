// Package runlog batches structured crawl log entries on a background
// goroutine and fans them out to pluggable sinks such as the crawl_logs table,
// the process logger, or Prometheus counters.
package runlog
