package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/projectlens/pkg/types"
)

// Entry is a project's latest report together with the time it was received.
type Entry struct {
	Report    *types.Report
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory report store keyed by project id. Only
// the newest report per project is kept. A background goroutine (Run)
// periodically evicts entries that have not been updated within the TTL.
type Store struct {
	mu   sync.RWMutex
	data map[int]*Entry
	ttl  time.Duration // zero disables expiry
	now  func() time.Time
}

// New creates a Store with the given TTL. A zero TTL keeps entries forever.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[int]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores r as the latest report for r.ProjectID. A report generated
// before the one already held is ignored and Put returns false.
// Callers must not modify r after calling Put.
func (s *Store) Put(r *types.Report) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data[r.ProjectID]; ok && r.GeneratedAt.Before(cur.Report.GeneratedAt) {
		return false
	}
	s.data[r.ProjectID] = &Entry{Report: r, UpdatedAt: s.now()}
	return true
}

// Get returns the entry for projectID. The entry may be stale if the TTL
// has elapsed but eviction has not yet run.
func (s *Store) Get(projectID int) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[projectID]
	return e, ok
}

// List returns the live entries ordered by project id.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.live(e, now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Report.ProjectID < out[j].Report.ProjectID
	})
	return out
}

// Reports returns the reports of List.
func (s *Store) Reports() []*types.Report {
	entries := s.List()
	out := make([]*types.Report, len(entries))
	for i, e := range entries {
		out[i] = e.Report
	}
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.data {
		if !s.live(e, now) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

func (s *Store) live(e *Entry, now time.Time) bool {
	return s.ttl <= 0 || e.UpdatedAt.After(now.Add(-s.ttl))
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second, maximum 1 minute). Run blocks until ctx is cancelled
// and returns at once when the TTL is zero.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	interval := min(max(s.ttl/2, time.Second), time.Minute)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale reports", "count", n)
			}
		}
	}
}
