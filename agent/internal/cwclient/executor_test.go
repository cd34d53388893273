package cwclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingLimiter admits every caller and counts the permits handed out.
type countingLimiter struct{ n atomic.Int32 }

func (l *countingLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.n.Add(1)
	return nil
}

// sleepRecorder stands in for the executor's sleep and records durations.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

// scripted serves the given statuses in order, then 200 with body "[]".
func scripted(t *testing.T, statuses []int, headers map[int]http.Header) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		i := int(hits.Add(1)) - 1
		if i >= len(statuses) {
			_, _ = w.Write([]byte("[]"))
			return
		}
		for k, vs := range headers[i] {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(statuses[i])
		_, _ = w.Write([]byte(`{"code":"Err","message":"attempt failed"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestExecutor(t *testing.T, baseURL string, lim Acquirer, timeout time.Duration) (*Executor, *sleepRecorder) {
	t.Helper()
	exec, err := NewExecutor(http.DefaultClient, lim, ExecutorOptions{
		BaseURL: baseURL,
		Timeout: timeout,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	rec := &sleepRecorder{}
	exec.sleep = rec.Sleep
	return exec, rec
}

func TestExecute_Success(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("conditions")
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	exec, _ := newTestExecutor(t, srv.URL+"/v4_6_release/apis/3.0/", lim, time.Second)

	resp, err := exec.Execute(context.Background(), http.MethodGet, "project/tickets", nil,
		map[string]string{"conditions": "project/id=12"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[{"id":1}]`, string(resp.Body))
	require.Equal(t, "/v4_6_release/apis/3.0/project/tickets", gotPath)
	require.Equal(t, "project/id=12", gotQuery)
	require.EqualValues(t, 1, lim.n.Load())
}

func TestExecute_AcceptsAny2xx(t *testing.T) {
	srv, _ := scripted(t, []int{http.StatusNoContent}, nil)
	exec, _ := newTestExecutor(t, srv.URL, &countingLimiter{}, time.Second)

	resp, err := exec.Execute(context.Background(), http.MethodGet, "system/info", nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestExecute_RetryAfterPausesOutsideBudget(t *testing.T) {
	srv, hits := scripted(t,
		[]int{http.StatusTooManyRequests, http.StatusTooManyRequests},
		map[int]http.Header{
			0: {"Retry-After": []string{"2"}},
			1: {"Retry-After": []string{"2"}},
		})
	lim := &countingLimiter{}
	exec, rec := newTestExecutor(t, srv.URL, lim, time.Second)

	_, err := exec.Execute(context.Background(), http.MethodGet, "project/projects", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.slept)
	require.EqualValues(t, 3, hits.Load())
	require.EqualValues(t, 3, lim.n.Load(), "every attempt takes a permit")
}

func TestExecute_429DoesNotConsumeRetryBudget(t *testing.T) {
	// Two 5xx with 429s interleaved: still within the 3-attempt budget.
	srv, hits := scripted(t, []int{
		http.StatusServiceUnavailable,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusTooManyRequests,
	}, nil)
	exec, rec := newTestExecutor(t, srv.URL, &countingLimiter{}, time.Second)

	_, err := exec.Execute(context.Background(), http.MethodGet, "project/projects", nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 6, hits.Load())
	require.Len(t, rec.slept, 3)
	for _, d := range rec.slept {
		require.Equal(t, DefaultRetryAfter, d, "missing Retry-After falls back to the default")
	}
}

func TestExecute_ServerErrorExhaustsAfterThreeAttempts(t *testing.T) {
	srv, hits := scripted(t, []int{503, 503, 503, 503}, nil)
	exec, rec := newTestExecutor(t, srv.URL, &countingLimiter{}, time.Second)

	_, err := exec.Execute(context.Background(), http.MethodGet, "project/projects", nil, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransportFailure)
	require.NotErrorIs(t, err, ErrRequestFailed)

	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 503, rerr.StatusCode)
	require.Equal(t, 3, rerr.Attempts)
	require.Contains(t, string(rerr.Body), "attempt failed")
	require.EqualValues(t, 3, hits.Load(), "no fourth attempt")
	require.Empty(t, rec.slept, "5xx retries have no backoff of their own")
}

func TestExecute_ClientErrorFailsImmediately(t *testing.T) {
	srv, hits := scripted(t, []int{http.StatusNotFound}, nil)
	exec, _ := newTestExecutor(t, srv.URL, &countingLimiter{}, time.Second)

	_, err := exec.Execute(context.Background(), http.MethodGet, "project/projects/99", nil, nil)
	require.ErrorIs(t, err, ErrRequestFailed)
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusNotFound, rerr.StatusCode)
	require.EqualValues(t, 1, hits.Load())
}

func TestExecute_TimeoutRetriedThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"id":5}`))
	}))
	defer srv.Close()

	exec, _ := newTestExecutor(t, srv.URL, &countingLimiter{}, 50*time.Millisecond)
	resp, err := exec.Execute(context.Background(), http.MethodGet, "project/tickets/5", nil, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":5}`, string(resp.Body))
	require.EqualValues(t, 2, hits.Load())
}

func TestExecute_TimeoutsShareBudgetWith5xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	exec, _ := newTestExecutor(t, srv.URL, &countingLimiter{}, 50*time.Millisecond)
	_, err := exec.Execute(context.Background(), http.MethodGet, "project/tickets", nil, nil)
	require.ErrorIs(t, err, ErrTransportFailure)

	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 3, rerr.Attempts)
	require.EqualValues(t, 3, hits.Load())
}

func TestExecute_ConnectionErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	exec, _ := newTestExecutor(t, url, &countingLimiter{}, time.Second)
	_, err := exec.Execute(context.Background(), http.MethodGet, "system/info", nil, nil)
	require.ErrorIs(t, err, ErrTransportFailure)

	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 1, rerr.Attempts)
}

func TestExecute_CancelDuringRetryAfterSleep(t *testing.T) {
	srv, _ := scripted(t, []int{http.StatusTooManyRequests}, map[int]http.Header{
		0: {"Retry-After": []string{"60"}},
	})
	exec, err := NewExecutor(http.DefaultClient, &countingLimiter{}, ExecutorOptions{
		BaseURL: srv.URL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err = exec.Execute(ctx, http.MethodGet, "project/projects", nil, nil)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_CancelDuringInflightRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	exec, _ := newTestExecutor(t, srv.URL, &countingLimiter{}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := exec.Execute(ctx, http.MethodGet, "project/projects", nil, nil)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
	require.EqualValues(t, 1, hits.Load())

	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 1, rerr.Attempts)
}

func TestExecute_ReportsAttemptsOnSuccess(t *testing.T) {
	srv, _ := scripted(t, []int{http.StatusTooManyRequests, http.StatusServiceUnavailable}, nil)
	exec, _ := newTestExecutor(t, srv.URL, &countingLimiter{}, time.Second)

	resp, err := exec.Execute(context.Background(), http.MethodGet, "project/projects", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
}

func TestExecute_CancelledBeforePermit(t *testing.T) {
	srv, hits := scripted(t, nil, nil)
	exec, _ := newTestExecutor(t, srv.URL, &countingLimiter{}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Execute(ctx, http.MethodGet, "project/projects", nil, nil)
	require.ErrorIs(t, err, ErrCancelled)
	require.EqualValues(t, 0, hits.Load())
}

func TestNewExecutor_RejectsMissingCollaborators(t *testing.T) {
	_, err := NewExecutor(nil, &countingLimiter{}, ExecutorOptions{})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewExecutor(http.DefaultClient, nil, ExecutorOptions{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", DefaultRetryAfter},
		{"soon", DefaultRetryAfter},
		{"-3", DefaultRetryAfter},
		{"0", 0},
		{"2", 2 * time.Second},
		{" 15 ", 15 * time.Second},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"99999999999", time.Duration(maxRetryAfterSecs) * time.Second},
		{"99999999999999999999", time.Duration(maxRetryAfterSecs) * time.Second},
		{"-99999999999999999999", DefaultRetryAfter},
	}
	for _, tc := range tests {
		if got := retryAfter(tc.in, now); got != tc.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRequestError_MatchesKindAndCause(t *testing.T) {
	err := error(&RequestError{Kind: ErrCancelled, Method: "GET", Endpoint: "x", Err: context.Canceled})
	require.True(t, errors.Is(err, ErrCancelled))
	require.True(t, errors.Is(err, context.Canceled))
	require.False(t, errors.Is(err, ErrTransportFailure))
	require.Contains(t, err.Error(), "GET x")
}
