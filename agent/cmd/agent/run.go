package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/projectlens/agent/internal/config"
	"github.com/obsidianstack/projectlens/agent/internal/shipper"
)

var once bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis loop until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runAgent,
}

func init() {
	runCmd.Flags().BoolVar(&once, "once", false, "run a single cycle, flush shipped reports and exit")
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	a := cfg.Agent
	slog.Info("projectlens-agent starting",
		"config", configPath,
		"server_endpoint", a.ServerEndpoint,
		"projects", len(a.Projects),
		"interval", a.Interval,
		"insight", a.Insight.Provider,
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fetch, err := newFetchStack(a)
	if err != nil {
		return err
	}
	defer fetch.Close()

	svc, err := newInsight(ctx, a.Insight)
	if err != nil {
		return err
	}

	var ship *shipper.Shipper
	if a.ServerEndpoint != "" {
		if ship, err = shipper.New(a); err != nil {
			return err
		}
	} else {
		slog.Warn("agent: no server_endpoint configured, reports are not shipped")
	}

	p, err := newPipeline(a, fetch, svc, ship)
	if err != nil {
		return err
	}

	if once {
		sum, err := p.RunOnce(ctx)
		if err != nil {
			return err
		}
		if ship != nil {
			if err := ship.Drain(ctx); err != nil {
				return err
			}
		}
		slog.Info("projectlens-agent finished", "analyzed", sum.Analyzed, "failed", sum.Failed)
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if ship != nil {
		g.Go(func() error {
			ship.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		p.Run(ctx)
		return nil
	})
	g.Go(func() error {
		err := config.Watch(ctx, configPath, func(updated *config.Config) {
			u := updated.Agent
			if lvl, err := config.ParseLevel(u.LogLevel); err == nil && logLevel == "" {
				level.Set(lvl)
			}
			p.SetProjects(u.Projects, u.ProjectConditions)
			p.SetInterval(u.Interval)
			next, err := newInsight(ctx, u.Insight)
			if err != nil {
				slog.Error("agent: insight not reloaded", "err", err)
			} else {
				p.SetInsight(next)
			}
			slog.Info("agent: config reloaded", "projects", len(u.Projects), "interval", u.Interval)
		})
		if err != nil {
			slog.Error("agent: config watcher stopped", "err", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("projectlens-agent shutting down")
	return err
}
