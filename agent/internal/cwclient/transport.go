package cwclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// Pool defaults. They match a modest keep-alive budget for one tenant.
const (
	DefaultMaxConnsPerHost = 10
	DefaultMaxIdleConns    = 5
	DefaultIdleTimeout     = 90 * time.Second
)

// Credentials are the four opaque strings the remote API authenticates with.
type Credentials struct {
	Company    string
	PublicKey  string
	PrivateKey string
	ClientID   string
}

// PoolOptions tunes the connection pool behind an Executor.
type PoolOptions struct {
	MaxConnsPerHost    int
	MaxIdleConns       int
	IdleTimeout        time.Duration
	InsecureSkipVerify bool
}

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pool owns the keep-alive connections used to reach the API. Create one per
// process, pass it to NewExecutor, and Close it on shutdown.
type Pool struct {
	transport *http.Transport
	client    *http.Client
}

// NewPool builds a pool whose requests carry creds.
func NewPool(creds Credentials, opts PoolOptions) *Pool {
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = DefaultMaxIdleConns
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		IdleConnTimeout:     opts.IdleTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	return &Pool{
		transport: tr,
		// No client-level timeout: the executor sets one per attempt.
		client: &http.Client{Transport: &authRoundTripper{base: tr, creds: creds}},
	}
}

// Client returns the pooled client.
func (p *Pool) Client() Doer { return p.client }

// Close releases idle connections. In-flight requests are not interrupted.
func (p *Pool) Close() {
	p.transport.CloseIdleConnections()
}

// authRoundTripper injects the API's authentication headers into every
// outgoing request.
type authRoundTripper struct {
	base  http.RoundTripper
	creds Credentials
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.creds.Company+"+"+t.creds.PublicKey, t.creds.PrivateKey)
	req.Header.Set("ClientID", t.creds.ClientID)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.base.RoundTrip(req)
}
