// Package main hosts the sheet similarity service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts spreadsheet jobs on /webhook and /v1/jobs, validates the column
//     letters, records a queued job in the JobStore and enqueues it. Pollers read /status/{job_id} or /v1/jobs.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by jobs.queue_depth and are fanned out
//     to jobs.concurrency workers. A full queue fails the submission with 503 instead of blocking the request.
//   - Scoring pipeline: a worker reads the sheet (Google Sheets or local .xlsx workbooks), skips rows that already
//     carry a score, fetches both URLs through Colly or chromedp, extracts the article text with readability,
//     embeds it through an OpenAI-compatible endpoint and writes the cosine score (plus an optional label) back in
//     batches paced per spreadsheet.
//   - Persistence & fanout: job records live in memory or Postgres; extracted text can be archived to memory, disk
//     or GCS; a job-finished event is published to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env (SIMILARITY_*) and files; zap provides structured
//     logging; Prometheus metrics are served on /metrics; OpenTelemetry spans cover each job and row.
//
// Quick checklist:
//   - Configure SIMILARITY_EMBEDDING_API_KEY (or embedding.base_url for a local endpoint) and Google credentials
//     via SIMILARITY_SHEETS_CREDENTIALS_FILE, or set sheets.backend=xlsx with sheets.xlsx_dir.
//   - Run locally: go run ./cmd/similarityd -config config.yaml (or rely solely on env overrides).
//   - The process drains in-flight jobs on SIGTERM within server.shutdown_timeout_seconds.
package main
