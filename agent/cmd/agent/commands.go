package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/projectlens/agent/internal/analysis"
	"github.com/obsidianstack/projectlens/agent/internal/config"
	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
	"github.com/obsidianstack/projectlens/agent/internal/insight"
	"github.com/obsidianstack/projectlens/agent/internal/pipeline"
	"github.com/obsidianstack/projectlens/agent/internal/security"
	"github.com/obsidianstack/projectlens/pkg/types"
)

var (
	listConditions string
	printPrompt    bool
	withInsight    bool
	saveBundle     string
	clearBefore    string
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects matching the configured conditions",
	Args:  cobra.NoArgs,
	RunE:  listProjects,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [project-id]",
	Short: "Collect and analyse one project, printing the report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  analyzeProject,
}

var analyzeFileCmd = &cobra.Command{
	Use:   "analyze-file [bundle.json]",
	Short: "Analyse a saved bundle without contacting the API",
	Long: `Analyse a bundle previously written by the agent (see bundle_dir) or by
"analyze --save". No request is sent to the project-management API.`,
	Args: cobra.ExactArgs(1),
	RunE: analyzeFile,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify API credentials and endpoint certificates",
	Args:  cobra.NoArgs,
	RunE:  checkEndpoints,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear cached insight documents",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show [project-id]",
	Short: "Print the latest cached insight for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  cacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [project-id]",
	Short: "Remove cached insight documents (all projects when no id is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  cacheClear,
}

func init() {
	projectsCmd.Flags().StringVar(&listConditions, "conditions", "", "override agent.project_conditions")

	for _, c := range []*cobra.Command{analyzeCmd, analyzeFileCmd} {
		c.Flags().BoolVar(&printPrompt, "prompt", false, "print the insight prompt instead of the report")
		c.Flags().BoolVar(&withInsight, "insight", true, "ask the configured insight provider")
	}
	analyzeCmd.Flags().StringVar(&saveBundle, "save", "", "also write the collected bundle to this file")
	cacheClearCmd.Flags().StringVar(&clearBefore, "before", "", "only remove entries dated before YYYY-MM-DD")
}

func listProjects(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	fetch, err := newFetchStack(cfg.Agent)
	if err != nil {
		return err
	}
	defer fetch.Close()

	conditions := cfg.Agent.ProjectConditions
	if listConditions != "" {
		conditions = listConditions
	}
	projects, err := fetch.collector.ListProjects(cmd.Context(), conditions)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tMANAGER")
	for _, p := range projects {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ID, p.Name, refName(p.Status), refIdentifier(p.Manager))
	}
	return tw.Flush()
}

func analyzeProject(cmd *cobra.Command, args []string) error {
	id, err := projectID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	fetch, err := newFetchStack(cfg.Agent)
	if err != nil {
		return err
	}
	defer fetch.Close()

	b, err := fetch.collector.Collect(cmd.Context(), id)
	if err != nil {
		return err
	}
	if saveBundle != "" {
		if err := writeBundleFile(saveBundle, b); err != nil {
			return err
		}
	}
	return analyzeBundle(cmd, cfg.Agent.Insight, b, fetch.collector)
}

func analyzeFile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := analysis.ReadBundle(f)
	if err != nil {
		return err
	}
	return analyzeBundle(cmd, cfg.Agent.Insight, b, bundleCollector{b})
}

func analyzeBundle(cmd *cobra.Command, ic config.InsightConfig, b *analysis.Bundle, col pipeline.Collector) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	maxActive := ic.MaxActiveTickets

	if printPrompt {
		tl, err := analysis.AnalyzeProjectTimeline(b, time.Now())
		if err != nil {
			return err
		}
		prompt, err := analysis.BuildPrompt(tl, maxActive)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, prompt)
		return err
	}

	var svc insight.Service = insight.Disabled{}
	if withInsight {
		var err error
		if svc, err = newInsight(ctx, ic); err != nil {
			return err
		}
	}
	p, err := pipeline.New(pipeline.Options{Collector: col, Insight: svc, MaxActiveTickets: maxActive})
	if err != nil {
		return err
	}
	report, err := p.Analyze(ctx, types.NewRunID(), b, svc)
	if err != nil {
		return err
	}
	return printJSON(out, report)
}

func checkEndpoints(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	a := cfg.Agent
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	out := cmd.OutOrStdout()
	failed := false

	for _, ep := range []struct {
		name     string
		url      string
		insecure bool
	}{
		{"connectwise", a.ConnectWise.BaseURL, a.ConnectWise.Pool.InsecureSkipVerify},
		{"server", a.ServerEndpoint, false},
	} {
		if ep.url == "" {
			continue
		}
		cs := security.Check(ctx, ep.url, ep.insecure)
		if cs == nil {
			fmt.Fprintf(out, "%-12s %s: plain http, no certificate\n", ep.name, ep.url)
			continue
		}
		fmt.Fprintf(out, "%-12s %s: %s", ep.name, ep.url, cs.Status)
		if cs.Status == security.StatusUnreachable {
			fmt.Fprintf(out, " (%s)\n", cs.Error)
		} else {
			fmt.Fprintf(out, " issuer=%q days_left=%d\n", cs.Issuer, cs.DaysLeft)
		}
		if !cs.OK() {
			failed = true
		}
	}

	fetch, err := newFetchStack(a)
	if err != nil {
		return err
	}
	defer fetch.Close()
	if err := fetch.client.VerifyCredentials(ctx); err != nil {
		fmt.Fprintf(out, "%-12s credentials rejected: %v\n", "connectwise", err)
		failed = true
	} else {
		fmt.Fprintf(out, "%-12s credentials ok\n", "connectwise")
	}

	if failed {
		return errors.New("check failed")
	}
	return nil
}

func cacheShow(cmd *cobra.Command, args []string) error {
	id, err := projectID(args[0])
	if err != nil {
		return err
	}
	cache, err := openCache()
	if err != nil {
		return err
	}
	doc, err := cache.Latest(id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), doc)
}

func cacheClear(cmd *cobra.Command, args []string) error {
	id := 0
	if len(args) == 1 {
		var err error
		if id, err = projectID(args[0]); err != nil {
			return err
		}
	}
	var before time.Time
	if clearBefore != "" {
		var err error
		if before, err = time.Parse(time.DateOnly, clearBefore); err != nil {
			return fmt.Errorf("--before: %w", err)
		}
	}
	cache, err := openCache()
	if err != nil {
		return err
	}
	n, err := cache.Clear(id, before)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached document(s)\n", n)
	return nil
}

func openCache() (*insight.Cached, error) {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return nil, err
	}
	if cfg.Agent.Insight.CacheDir == "" {
		return nil, errors.New("agent.insight.cache_dir is not configured")
	}
	return insight.NewCached(insight.Disabled{}, cfg.Agent.Insight.CacheDir)
}

// bundleCollector serves a single bundle loaded from disk.
type bundleCollector struct{ b *analysis.Bundle }

func (c bundleCollector) ListProjects(context.Context, string) ([]cwclient.Project, error) {
	return []cwclient.Project{c.b.Project}, nil
}

func (c bundleCollector) Collect(_ context.Context, id int) (*analysis.Bundle, error) {
	if id != c.b.Project.ID {
		return nil, fmt.Errorf("bundle holds project %d, not %d", c.b.Project.ID, id)
	}
	return c.b, nil
}

func writeBundleFile(path string, b *analysis.Bundle) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := analysis.WriteBundle(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func projectID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", s)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func refName(r *cwclient.Ref) string {
	if r == nil {
		return "-"
	}
	return r.Name
}

func refIdentifier(r *cwclient.Ref) string {
	if r == nil {
		return "-"
	}
	return r.Identifier
}
