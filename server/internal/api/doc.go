// Package api implements the HTTP REST API for projectlens-server.
//
// New(store, alerts, history) returns an http.Handler that serves:
//
//	GET /api/v1/health                  portfolio rollup (types.Portfolio)
//	GET /api/v1/projects                all live projects ([]ProjectResponse)
//	GET /api/v1/projects/{id}           single project; 404 if unknown or stale
//	GET /api/v1/projects/{id}/history   stored reports, newest first (?limit=&since=)
//	GET /api/v1/alerts                  firing and recently resolved alerts
//	GET /api/v1/snapshot                all live reports plus the portfolio
//	GET /healthz                        liveness probe
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. Lists read live entries only.
package api
