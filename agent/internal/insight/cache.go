package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "20060102"

// Cached wraps a Service with a per-project, per-day file cache. The first
// successful analysis of a project on a given day is reused for the rest of
// that day. Failures are not cached.
type Cached struct {
	next Service
	dir  string
	now  func() time.Time
}

// NewCached creates dir if needed and returns the caching wrapper.
func NewCached(next Service, dir string) (*Cached, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("insight: create cache dir: %w", err)
	}
	return &Cached{next: next, dir: dir, now: time.Now}, nil
}

// Analyze returns today's cached document for projectID or asks the wrapped
// service and caches the result.
func (c *Cached) Analyze(ctx context.Context, projectID int, prompt string) (*Document, error) {
	today := c.now()
	if doc, err := c.Get(projectID, today); err == nil {
		slog.Debug("insight: cache hit", "project_id", projectID, "date", today.Format(dateLayout))
		return doc, nil
	} else if !errors.Is(err, ErrNotCached) {
		slog.Warn("insight: unreadable cache entry, refreshing", "project_id", projectID, "err", err)
	}

	doc, err := c.next.Analyze(ctx, projectID, prompt)
	if err != nil {
		return nil, err
	}
	if err := c.write(c.path(projectID, today), doc); err != nil {
		slog.Warn("insight: cache write failed", "project_id", projectID, "err", err)
	}
	return doc, nil
}

// Get returns the document cached for projectID on the given day.
func (c *Cached) Get(projectID int, day time.Time) (*Document, error) {
	return c.read(c.path(projectID, day))
}

// Latest returns the most recently dated document cached for projectID.
func (c *Cached) Latest(projectID int) (*Document, error) {
	entries, err := c.list(projectID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: project %d", ErrNotCached, projectID)
	}
	return c.read(entries[len(entries)-1].path)
}

// Clear removes cached documents. projectID 0 matches every project; a zero
// before removes every date, otherwise only files dated before it.
func (c *Cached) Clear(projectID int, before time.Time) (int, error) {
	entries, err := c.list(projectID)
	if err != nil {
		return 0, err
	}
	cutoff := ""
	if !before.IsZero() {
		cutoff = before.Format(dateLayout)
	}
	removed := 0
	for _, e := range entries {
		if cutoff != "" && e.date >= cutoff {
			continue
		}
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("insight: clear cache: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (c *Cached) path(projectID int, day time.Time) string {
	return filepath.Join(c.dir, fmt.Sprintf("analysis_%d_%s.json", projectID, day.Format(dateLayout)))
}

type cacheEntry struct {
	projectID int
	date      string
	path      string
}

// list returns cache files for projectID (0 = all), oldest date first.
func (c *Cached) list(projectID int) ([]cacheEntry, error) {
	pattern := "analysis_*_*.json"
	if projectID != 0 {
		pattern = fmt.Sprintf("analysis_%d_*.json", projectID)
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("insight: list cache: %w", err)
	}

	var out []cacheEntry
	for _, m := range matches {
		parts := strings.Split(strings.TrimSuffix(filepath.Base(m), ".json"), "_")
		if len(parts) != 3 {
			continue
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		if _, err := time.Parse(dateLayout, parts[2]); err != nil {
			continue
		}
		out = append(out, cacheEntry{projectID: id, date: parts[2], path: m})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].date != out[j].date {
			return out[i].date < out[j].date
		}
		return out[i].projectID < out[j].projectID
	})
	return out, nil
}

func (c *Cached) read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("insight: read cache: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("insight: decode cache %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

// write stores doc atomically via a temp file and rename.
func (c *Cached) write(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, ".analysis-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
