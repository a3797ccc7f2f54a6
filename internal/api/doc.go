// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET / and /health for a service banner; /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /webhook and /v1/jobs to submit a sheet for scoring.
//   - GET /status/{job_id} and /v1/jobs/{job_id} to poll a job.
//   - GET /jobs and /v1/jobs to list recent jobs.
package api
