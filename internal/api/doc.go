// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /ws/{client_id} upgrades to a WebSocket observer connection.
//   - POST /api/scraper/start and GET /api/scraper/status/{job_id} for jobs.
//   - DELETE /api/projects/{project_id} removes a project and its records.
//   - POST /api/auth/signup, POST /api/auth/login, GET /api/auth/me.
//   - GET /healthz and /readyz for Kubernetes probes, /metrics for Prometheus.
package api
