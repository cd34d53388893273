package shipper

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/obsidianstack/projectlens/agent/internal/config"
	"github.com/obsidianstack/projectlens/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	maxBatch          = 100
	reportsPath       = "/api/v1/reports"
)

// Shipper buffers Reports and ships them to projectlens-server over HTTP.
// Ship() is non-blocking; when the buffer is full the oldest report is evicted.
// Run() must be called in a goroutine to drain the buffer and handle retries.
type Shipper struct {
	cfg    config.AgentConfig
	url    string
	buf    chan *types.Report
	client *http.Client
	bo     *backoff
}

// permanentError marks a response that will not succeed on retry.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("server returned HTTP %d: %s", e.status, e.body)
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) (*Shipper, error) {
	if cfg.ServerEndpoint == "" {
		return nil, fmt.Errorf("shipper: server_endpoint is required")
	}
	client, err := buildHTTPClient(cfg.ServerAuth)
	if err != nil {
		return nil, fmt.Errorf("shipper: %w", err)
	}
	return &Shipper{
		cfg:    cfg,
		url:    strings.TrimRight(cfg.ServerEndpoint, "/") + reportsPath,
		buf:    make(chan *types.Report, cfg.BufferSize),
		client: client,
		bo:     newBackoff(),
	}, nil
}

// Ship enqueues r. If the buffer is full the oldest entry is evicted to make
// room.
func (s *Shipper) Ship(r *types.Report) {
	select {
	case s.buf <- r:
	default:
		// Buffer full, drop the oldest report and keep the newest.
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest report",
				"project_id", old.ProjectID, "buffer_cap", cap(s.buf))
		default:
		}
		select {
		case s.buf <- r:
		default:
		}
	}
}

// Pending returns the number of buffered reports.
func (s *Shipper) Pending() int {
	return len(s.buf)
}

// Run sends buffered reports every ShipInterval, backing off exponentially
// while the server is unreachable. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.ShipInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.flush(ctx); err != nil && ctx.Err() == nil {
				wait := s.bo.next()
				slog.Warn("shipper: delivery failed, will retry",
					"endpoint", s.url,
					"err", err,
					"pending", len(s.buf),
					"retry_in", wait)
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}
	}
}

// Drain sends everything buffered once, without retrying. Reports that
// could not be delivered stay buffered and the error is returned.
func (s *Shipper) Drain(ctx context.Context) error {
	if err := s.flush(ctx); err != nil {
		slog.Warn("shipper: drain incomplete", "pending", len(s.buf), "err", err)
		return err
	}
	return nil
}

// flush sends batches until the buffer is empty or a send fails with a
// retryable error.
func (s *Shipper) flush(ctx context.Context) error {
	for {
		batch := s.take(maxBatch)
		if len(batch) == 0 {
			return nil
		}

		resp, err := s.send(ctx, batch)
		if err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				slog.Error("shipper: permanent send error, discarding batch",
					"reports", len(batch), "err", err)
				continue
			}
			s.requeue(batch)
			return err
		}

		s.bo.reset()
		for _, rej := range resp.Rejected {
			slog.Warn("shipper: server rejected report",
				"project_id", rej.ProjectID, "message", rej.Error)
		}
		slog.Debug("shipper: batch delivered", "accepted", resp.Accepted, "sent", len(batch))
	}
}

// take removes up to n reports from the buffer without blocking.
func (s *Shipper) take(n int) []*types.Report {
	var out []*types.Report
	for len(out) < n {
		select {
		case r := <-s.buf:
			out = append(out, r)
		default:
			return out
		}
	}
	return out
}

// requeue puts reports back while there is room. Reports that no longer fit
// are dropped; the next cycle supersedes them.
func (s *Shipper) requeue(batch []*types.Report) {
	for _, r := range batch {
		select {
		case s.buf <- r:
		default:
			return
		}
	}
}

func (s *Shipper) send(ctx context.Context, batch []*types.Report) (*types.BatchResponse, error) {
	body := types.Batch{Reports: make([]types.Report, 0, len(batch))}
	for _, r := range batch {
		body.Reports = append(body.Reports, *r)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &permanentError{body: err.Error()}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
		req.Header.Set(s.cfg.ServerAuth.Header, s.cfg.ServerAuth.Key())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if isPermanentStatus(resp.StatusCode) {
		return nil, &permanentError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	var out types.BatchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		// Delivered; only the summary is unreadable.
		slog.Warn("shipper: unreadable server response", "err", err)
		out.Accepted = len(batch)
	}
	return &out, nil
}

// isPermanentStatus returns true for responses that indicate the batch
// itself is unacceptable and should not be retried.
func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusRequestEntityTooLarge:
		return true
	}
	return false
}

// buildHTTPClient constructs the client for the configured server auth mode.
func buildHTTPClient(auth config.AuthConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if auth.Mode == "mtls" {
		tlsCfg, err := buildMTLSConfig(auth)
		if err != nil {
			return nil, fmt.Errorf("build mtls config: %w", err)
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &http.Client{Transport: transport}, nil
}

// buildMTLSConfig loads client certificate and optional CA from the auth config.
func buildMTLSConfig(auth config.AuthConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{initial: backoffInitial, max: backoffMax, current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
