// Package api hosts the optional admin HTTP server of a crawl run. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live run snapshot folded from progress events.
package api
