// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST /api/scrape runs one scrape and returns the session summary.
//   - GET /api/download, /api/csv and /api/images serve session artifacts.
//   - GET /api/files, /api/images/{id}/info and /api/session/{id}/status describe a session.
//   - POST /api/maintenance/... reclaims sessions on demand; GET /api/maintenance/stats
//     reports storage totals.
//   - GET /api/health reports build, runtime and storage details.
//   - /api/debug/... shows the newest session, recent events, and runs a dry-run scrape.
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
