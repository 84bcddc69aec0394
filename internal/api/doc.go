// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness and store reachability.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/queue for per-status frontier counts.
//   - GET /v1/books/{id} for a stored book record.
package api
