// Package api hosts the render front door. Notable routes:
//   - GET /render/{url}, /pdf/{url}, /screenshot/{url} stream a single capture of url.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
