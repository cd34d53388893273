package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/projectlens/agent/internal/collect"
	"github.com/obsidianstack/projectlens/agent/internal/compute"
	"github.com/obsidianstack/projectlens/agent/internal/config"
	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
	"github.com/obsidianstack/projectlens/agent/internal/insight"
	"github.com/obsidianstack/projectlens/agent/internal/metrics"
	"github.com/obsidianstack/projectlens/agent/internal/pipeline"
	"github.com/obsidianstack/projectlens/agent/internal/ratelimit"
	"github.com/obsidianstack/projectlens/agent/internal/shipper"
)

// fetchStack is the pool, limiter, executor and client chain shared by every
// request the process sends to the project-management API.
type fetchStack struct {
	pool      *cwclient.Pool
	client    *cwclient.Client
	collector *collect.Collector
}

func newFetchStack(a config.AgentConfig) (*fetchStack, error) {
	cw := a.ConnectWise
	creds := cwclient.Credentials{
		Company:    cw.Company,
		PublicKey:  cw.PublicKey(),
		PrivateKey: cw.PrivateKey(),
		ClientID:   cw.ClientID(),
	}
	if creds.PublicKey == "" || creds.PrivateKey == "" || creds.ClientID == "" {
		return nil, fmt.Errorf("agent: connectwise credentials missing; set %s, %s and %s",
			cw.PublicKeyEnv, cw.PrivateKeyEnv, cw.ClientIDEnv)
	}

	limiter, err := ratelimit.New(cw.RateLimit.Requests, cw.RateLimit.Window)
	if err != nil {
		return nil, err
	}
	pool := cwclient.NewPool(creds, cwclient.PoolOptions{
		MaxConnsPerHost:    cw.Pool.MaxConnsPerHost,
		MaxIdleConns:       cw.Pool.MaxIdleConns,
		IdleTimeout:        cw.Pool.IdleTimeout,
		InsecureSkipVerify: cw.Pool.InsecureSkipVerify,
	})
	exec, err := cwclient.NewExecutor(pool.Client(), limiter, cwclient.ExecutorOptions{
		BaseURL:     cw.BaseURL,
		Timeout:     cw.Timeout,
		MaxAttempts: cw.MaxAttempts,
		Logger:      slog.Default().With("component", "cwclient"),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	client := cwclient.NewClient(exec)
	return &fetchStack{
		pool:      pool,
		client:    client,
		collector: collect.New(client, a.Concurrency),
	}, nil
}

func (f *fetchStack) Close() { f.pool.Close() }

// newInsight builds the configured insight service, wrapped in the daily
// cache when a cache dir is set.
func newInsight(ctx context.Context, c config.InsightConfig) (insight.Service, error) {
	if !c.Enabled() {
		return insight.Disabled{}, nil
	}
	var svc insight.Service
	switch c.Provider {
	case "gemini":
		g, err := insight.NewGeminiService(ctx, c.APIKey(), c.Model)
		if err != nil {
			return nil, err
		}
		svc = g
	default:
		return nil, fmt.Errorf("agent: unknown insight provider %q", c.Provider)
	}
	if c.CacheDir == "" {
		return svc, nil
	}
	return insight.NewCached(svc, c.CacheDir)
}

// newPipeline wires the analysis cycle. ship may be nil.
func newPipeline(a config.AgentConfig, fetch *fetchStack, svc insight.Service, ship *shipper.Shipper) (*pipeline.Pipeline, error) {
	opts := pipeline.Options{
		Insight:          svc,
		Engine:           compute.NewEngine(),
		Projects:         a.Projects,
		Conditions:       a.ProjectConditions,
		Interval:         a.Interval,
		MaxActiveTickets: a.Insight.MaxActiveTickets,
		BundleDir:        a.BundleDir,
	}
	if fetch != nil {
		opts.Collector = fetch.collector
	}
	if ship != nil {
		opts.Shipper = ship
	}
	if a.Metrics.TextfilePath != "" {
		opts.Metrics = metrics.New(a.Metrics.TextfilePath)
	}
	return pipeline.New(opts)
}
