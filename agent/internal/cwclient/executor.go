package cwclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/projectlens/agent/internal/ratelimit"
)

// Executor defaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryAfter  = 60 * time.Second
)

// Acquirer hands out request permits. *ratelimit.Limiter satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// ExecutorOptions configures an Executor. Zero values take the defaults above.
type ExecutorOptions struct {
	// BaseURL is prefixed to relative endpoints, e.g.
	// https://api-na.myconnectwise.net/v4_6_release/apis/3.0
	BaseURL string

	// Timeout bounds each network attempt, response body included.
	Timeout time.Duration

	// MaxAttempts is the shared budget for 5xx responses and timeouts.
	// 429 responses do not count against it.
	MaxAttempts int

	Logger *slog.Logger
}

// Response is a successful reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts counts every round trip Execute made, 429s included.
	Attempts int
}

// Executor sends one logical request at a time through a Doer, pacing every
// attempt through a shared Acquirer and retrying transient failures.
// It is safe for concurrent use.
type Executor struct {
	baseURL     string
	doer        Doer
	limiter     Acquirer
	timeout     time.Duration
	maxAttempts int
	logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error // injectable for tests
	now   func() time.Time
}

// NewExecutor returns an Executor that sends through doer, usually
// (*Pool).Client().
func NewExecutor(doer Doer, limiter Acquirer, opts ExecutorOptions) (*Executor, error) {
	if doer == nil {
		return nil, fmt.Errorf("%w: nil doer", ErrInvalidArgument)
	}
	if limiter == nil {
		return nil, fmt.Errorf("%w: nil limiter", ErrInvalidArgument)
	}
	if opts.BaseURL != "" {
		if _, err := url.Parse(opts.BaseURL); err != nil {
			return nil, fmt.Errorf("%w: base url: %v", ErrInvalidArgument, err)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		doer:        doer,
		limiter:     limiter,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
		sleep:       ratelimit.Sleep,
		now:         time.Now,
	}, nil
}

// Execute performs method against endpoint with the given headers and query.
//
// Every attempt first takes a permit from the limiter. 429 responses are
// absorbed by sleeping for Retry-After and trying again. 5xx responses and
// timeouts are retried until MaxAttempts of them have been seen. Any other
// non-2xx status fails at once with ErrRequestFailed.
func (e *Executor) Execute(ctx context.Context, method, endpoint string, headers http.Header, query map[string]string) (*Response, error) {
	u, err := e.resolve(endpoint, query)
	if err != nil {
		return nil, err
	}

	var (
		attempts int
		failures int // 5xx + timeouts, shared budget
	)
	fail := func(kind error, status int, body []byte, cause error) error {
		rerr := &RequestError{
			Kind:       kind,
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: status,
			Body:       body,
			Attempts:   attempts,
			Err:        cause,
		}
		if kind == ErrCancelled {
			e.logger.Debug("cwclient: request cancelled", "method", method, "endpoint", endpoint, "attempts", attempts)
		} else {
			e.logger.Error("cwclient: request failed",
				"method", method, "endpoint", endpoint,
				"status", status, "attempts", attempts, "err", rerr)
		}
		return rerr
	}

	for {
		if err := e.limiter.Acquire(ctx); err != nil {
			return nil, fail(ErrCancelled, 0, nil, err)
		}
		attempts++

		if e.logger.Enabled(ctx, slog.LevelDebug) {
			e.logger.Debug("cwclient: request",
				"method", method, "endpoint", endpoint,
				"params", query, "attempt", attempts)
		}

		resp, err := e.attempt(ctx, method, u, headers)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fail(ErrCancelled, 0, nil, ctx.Err())
			}
			if !isTimeout(err) {
				return nil, fail(ErrTransportFailure, 0, nil, err)
			}
			failures++
			if failures >= e.maxAttempts {
				return nil, fail(ErrTransportFailure, 0, nil, err)
			}
			e.logger.Warn("cwclient: request timed out, retrying",
				"method", method, "endpoint", endpoint,
				"attempt", failures, "max_attempts", e.maxAttempts)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if e.logger.Enabled(ctx, slog.LevelDebug) {
				e.logger.Debug("cwclient: response",
					"method", method, "endpoint", endpoint,
					"status", resp.StatusCode, "bytes", len(resp.Body))
			}
			resp.Attempts = attempts
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header.Get("Retry-After"), e.now())
			e.logger.Warn("cwclient: rate limited by server, waiting",
				"method", method, "endpoint", endpoint, "retry_after", wait)
			if err := e.sleep(ctx, wait); err != nil {
				return nil, fail(ErrCancelled, resp.StatusCode, resp.Body, err)
			}

		case resp.StatusCode >= 500:
			failures++
			if failures >= e.maxAttempts {
				return nil, fail(ErrTransportFailure, resp.StatusCode, resp.Body, nil)
			}
			e.logger.Warn("cwclient: server error, retrying",
				"method", method, "endpoint", endpoint, "status", resp.StatusCode,
				"attempt", failures, "max_attempts", e.maxAttempts)

		default:
			return nil, fail(ErrRequestFailed, resp.StatusCode, resp.Body, nil)
		}
	}
}

// attempt performs one round trip under the per-attempt timeout. The body is
// read in full before the timeout is released.
func (e *Executor) attempt(ctx context.Context, method, u string, headers http.Header) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := e.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// resolve joins endpoint onto the base URL and attaches the query.
func (e *Executor) resolve(endpoint string, query map[string]string) (string, error) {
	raw := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		raw = e.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", invalidArgument("endpoint %q: %v", endpoint, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range encode(query) {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// maxRetryAfterSecs is the largest delay-seconds value a time.Duration holds.
const maxRetryAfterSecs = math.MaxInt64 / int64(time.Second)

// retryAfter parses a Retry-After header given as delay-seconds or an
// HTTP-date. Missing or unparseable values yield DefaultRetryAfter.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if secs < 0 {
			return DefaultRetryAfter
		}
		return time.Duration(min(secs, maxRetryAfterSecs)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfter
}

// isTimeout reports whether err came from an attempt deadline or a network
// timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
