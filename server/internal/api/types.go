package api

import "github.com/obsidianstack/projectlens/pkg/types"

// ProjectResponse is one project entry in GET /api/v1/projects or
// GET /api/v1/projects/{id}. The report fields are inlined.
type ProjectResponse struct {
	types.Report
	Diagnostics []DiagnosticHint `json:"diagnostics"`
	LastSeen    string           `json:"last_seen"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
