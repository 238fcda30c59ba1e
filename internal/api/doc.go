// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/imports and /v1/imports/single to run an import.
//   - GET /v1/ogp?url= to scrape social metadata for an allow-listed host.
package api
