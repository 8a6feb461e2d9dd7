// Package api hosts the HTTP server that runs captures on demand.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to submit a run; GET /v1/runs and /v1/runs/{run_id}
//     to follow it; POST /v1/runs/{run_id}/cancel to stop it.
package api
