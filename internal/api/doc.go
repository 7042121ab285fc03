// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/backlinks/{id}/check queues a manual verification.
//   - GET /v1/backlinks/{id}/checks returns the audit trail.
//   - POST /v1/backlinks/{id}/acknowledge clears a changed status.
//   - GET /v1/alerts and POST /v1/alerts/{id}/read for the alert inbox.
//   - POST /v1/webhooks/test sends a signed test event to a user's endpoint.
package api
