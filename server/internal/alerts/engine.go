package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/projectlens/pkg/types"
	"github.com/obsidianstack/projectlens/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 24
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID          string     `json:"id"`
	RuleName    string     `json:"rule_name"`
	ProjectID   int        `json:"project_id"`
	ProjectName string     `json:"project_name,omitempty"`
	Severity    string     `json:"severity"`
	Condition   string     `json:"condition"`
	Message     string     `json:"message"`
	Value       float64    `json:"value"`
	FiredAt     time.Time  `json:"fired_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	State       string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond Condition
}

// Engine evaluates alert rules against incoming reports and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:projectID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	deliveries sync.WaitGroup
}

// New creates an Engine from the server alert configuration. Every rule
// condition must parse. An Engine with no rules is valid; Evaluate is then
// a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	rules := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		c, err := ParseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
	}
	return &Engine{
		rules:    rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}, nil
}

// Evaluate tests all configured rules against r and returns the alerts that
// fired or resolved as a result. Webhook delivery runs asynchronously.
// A rule that cannot be judged for r (see Condition.Applies) keeps its
// current state.
func (e *Engine) Evaluate(r *types.Report) []*Alert {
	if len(e.rules) == 0 {
		return nil
	}

	now := e.now()
	var changed []*Alert
	for _, ru := range e.rules {
		if !ru.cond.Applies(r) {
			continue
		}
		key := ru.Name + ":" + strconv.Itoa(r.ProjectID)
		fires, value := ru.cond.Eval(r)

		e.mu.Lock()
		var a *Alert
		if fires {
			a = e.fire(key, ru, r, value, now)
		} else {
			a = e.resolve(key, now)
		}
		e.mu.Unlock()

		if a == nil {
			continue
		}
		if a.State == StateFiring {
			slog.Warn("alerts: alert fired",
				"rule", ru.Name,
				"project_id", r.ProjectID,
				"value", value,
				"severity", a.Severity,
			)
		} else {
			slog.Info("alerts: alert resolved",
				"rule", ru.Name,
				"project_id", r.ProjectID,
			)
		}
		changed = append(changed, a)
		if len(e.webhooks) > 0 {
			e.deliveries.Add(1)
			go func(a *Alert) {
				defer e.deliveries.Done()
				e.deliver(a)
			}(a)
		}
	}
	return changed
}

// fire records a firing alert unless the rule is cooling down for key.
// Callers must hold e.mu. It returns a copy of the new alert or nil.
func (e *Engine) fire(key string, ru rule, r *types.Report, value float64, now time.Time) *Alert {
	if _, ok := e.active[key]; ok {
		return nil
	}
	if now.Sub(e.lastFire[key]) <= ru.Cooldown {
		return nil
	}
	name := r.ProjectName
	if name == "" {
		name = "project " + strconv.Itoa(r.ProjectID)
	}
	a := &Alert{
		ID:          uuid.NewString(),
		RuleName:    ru.Name,
		ProjectID:   r.ProjectID,
		ProjectName: r.ProjectName,
		Severity:    ru.Severity,
		Condition:   ru.cond.String(),
		Value:       value,
		Message:     fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)", ru.Severity, ru.Name, name, ru.cond, value),
		FiredAt:     now,
		State:       StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now
	cp := *a
	return &cp
}

// resolve closes the firing alert for key, if any. Callers must hold e.mu.
func (e *Engine) resolve(key string, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok {
		return nil
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	return &cp
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past day, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FiredAt.After(out[j].FiredAt)
	})
	return out
}

// FiringCount returns the number of alerts currently firing.
func (e *Engine) FiringCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.deliveries.Wait()
}
