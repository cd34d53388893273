package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/obsidianstack/projectlens/pkg/types"
	"github.com/obsidianstack/projectlens/server/internal/alerts"
	"github.com/obsidianstack/projectlens/server/internal/history"
	"github.com/obsidianstack/projectlens/server/internal/store"
)

const maxHistoryLimit = 1000

// AlertSource is satisfied by *alerts.Engine.
type AlertSource interface {
	Active() []*alerts.Alert
	FiringCount() int
}

// HistoryReader is satisfied by *history.Store.
type HistoryReader interface {
	List(ctx context.Context, projectID int, opts history.ListOptions) ([]types.Report, error)
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads project state from the report store and returns JSON responses.
type Handler struct {
	store   *store.Store
	alerts  AlertSource
	history HistoryReader
	mux     *http.ServeMux
	now     func() time.Time
}

// New creates a Handler wired to the given report store and registers all
// routes. alertSrc and hist may be nil.
func New(st *store.Store, alertSrc AlertSource, hist HistoryReader) http.Handler {
	return newHandler(st, alertSrc, hist)
}

func newHandler(st *store.Store, alertSrc AlertSource, hist HistoryReader) *Handler {
	h := &Handler{store: st, alerts: alertSrc, history: hist, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/projects", h.listProjects)
	h.mux.HandleFunc("/api/v1/projects/{id}", h.getProject)
	h.mux.HandleFunc("/api/v1/projects/{id}/history", h.projectHistory)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/healthz", h.healthz)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: the portfolio rollup.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, BuildPortfolio(h.store.Reports(), h.alertCount()))
}

// listProjects returns GET /api/v1/projects: every live project.
func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	entries := h.store.List()
	out := make([]ProjectResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toProjectResponse(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getProject returns GET /api/v1/projects/{id}.
func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, ok := h.liveEntry(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "project not found")
		return
	}
	jsonResp(w, http.StatusOK, toProjectResponse(e))
}

// projectHistory returns GET /api/v1/projects/{id}/history?limit=&since=.
// Reports are newest first. since is RFC3339 or a Go duration such as 168h.
func (h *Handler) projectHistory(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if h.history == nil {
		jsonErr(w, http.StatusNotFound, "history storage is not enabled")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	opts := history.ListOptions{Limit: history.DefaultLimit}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = min(n, maxHistoryLimit)
	}
	if s := r.URL.Query().Get("since"); s != "" {
		since, err := parseSince(s, h.now())
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "since: "+err.Error())
			return
		}
		opts.Since = since
	}

	reports, err := h.history.List(r.Context(), id, opts)
	if err != nil {
		slog.Error("api: history query failed", "project_id", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "history query failed")
		return
	}
	jsonResp(w, http.StatusOK, reports)
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// snapshot returns GET /api/v1/snapshot: all live reports plus the portfolio.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store.Reports(), h.alertCount(), h.now()))
}

// healthz is the unauthenticated liveness probe.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) alertCount() int {
	if h.alerts == nil {
		return 0
	}
	return h.alerts.FiringCount()
}

// liveEntry returns the entry for id unless it is missing or past the TTL.
func (h *Handler) liveEntry(id int) (*store.Entry, bool) {
	for _, e := range h.store.List() {
		if e.Report.ProjectID == id {
			return e, true
		}
	}
	return nil, false
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		jsonErr(w, http.StatusBadRequest, "project id must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// toProjectResponse maps a store.Entry to its JSON representation.
func toProjectResponse(e *store.Entry) ProjectResponse {
	return ProjectResponse{
		Report:      *e.Report,
		Diagnostics: computeDiagnostics(e.Report),
		LastSeen:    e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
