// Package api hosts the HTTP server, middleware, and REST handlers for job
// submission and polling. Notable routes:
//   - POST /v1/jobs to submit a discovery job.
//   - GET /v1/jobs/{job_id} to poll a job snapshot.
//   - POST /v1/jobs/{job_id}/cancel to stop a job.
//   - POST /analyze and GET /analyze/{job_id} for older clients.
//   - GET /health, /healthz and /readyz for probes, /metrics for Prometheus.
package api
