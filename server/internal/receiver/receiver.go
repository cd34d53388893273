package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/obsidianstack/projectlens/pkg/types"
	"github.com/obsidianstack/projectlens/server/internal/alerts"
	"github.com/obsidianstack/projectlens/server/internal/store"
)

// Path is the route agents post report batches to.
const Path = "/api/v1/reports"

// MaxBodyBytes bounds one batch request.
const MaxBodyBytes = 8 << 20

// Evaluator is satisfied by *alerts.Engine.
type Evaluator interface {
	Evaluate(r *types.Report) []*alerts.Alert
}

// Recorder is satisfied by *history.Store.
type Recorder interface {
	Record(ctx context.Context, r *types.Report) error
}

// Notifier is satisfied by *ws.Hub.
type Notifier interface {
	Notify()
}

// Receiver accepts report batches from projectlens-agent instances.
// Each report is validated, stored as the project's latest, evaluated
// against the alert rules and appended to the history.
type Receiver struct {
	store   *store.Store
	alerts  Evaluator
	history Recorder
	notify  Notifier
}

// New creates a Receiver that writes accepted reports to st. alerts and
// history may be nil.
func New(st *store.Store, ev Evaluator, rec Recorder) *Receiver {
	return &Receiver{store: st, alerts: ev, history: rec}
}

// SetNotifier registers n to be told whenever a batch changed the store.
func (rc *Receiver) SetNotifier(n Notifier) {
	rc.notify = n
}

// ServeHTTP handles POST /api/v1/reports. Authentication is enforced by
// the auth middleware before this is called, so the receiver itself only
// performs validation.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		jsonErr(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch types.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&batch); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonErr(w, "batch too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonErr(w, "invalid batch: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := rc.Accept(r.Context(), batch.Reports)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// Accept processes a batch and reports which reports were kept.
func (rc *Receiver) Accept(ctx context.Context, reports []types.Report) types.BatchResponse {
	var resp types.BatchResponse
	changed := false
	for i := range reports {
		rep := &reports[i]
		if err := rep.Validate(); err != nil {
			resp.Rejected = append(resp.Rejected, types.Rejection{ProjectID: rep.ProjectID, Error: err.Error()})
			continue
		}
		resp.Accepted++

		latest := rc.store.Put(rep)
		if latest {
			changed = true
			if rc.alerts != nil {
				rc.alerts.Evaluate(rep)
			}
		}
		if rc.history != nil {
			if err := rc.history.Record(ctx, rep); err != nil {
				slog.Error("receiver: history write failed", "project_id", rep.ProjectID, "err", err)
			}
		}

		slog.Debug("receiver: report stored",
			"project_id", rep.ProjectID,
			"run_id", rep.RunID,
			"risk_level", rep.RiskLevel,
			"state", rep.Health.State,
			"latest", latest,
		)
	}
	if changed && rc.notify != nil {
		rc.notify.Notify()
	}
	if len(resp.Rejected) > 0 {
		slog.Warn("receiver: reports rejected", "rejected", len(resp.Rejected), "accepted", resp.Accepted)
	}
	return resp
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}
