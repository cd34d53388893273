// Command projectlens-agent collects project data from the project-management
// API, analyses it and ships health reports to projectlens-server.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/projectlens/agent/internal/config"
)

var (
	configPath string
	logLevel   string

	// level is shared by every handler so a config reload can change it.
	level = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "projectlens-agent",
	Short: "Project health agent",
	Long: `projectlens-agent walks every configured project through the
project-management API at a paced request rate, aggregates tickets, notes,
time entries and members into a health report, and ships the reports to
projectlens-server.

Without a subcommand the agent runs the analysis loop.`,
	SilenceUsage: true,
	RunE:         runAgent,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override agent.log_level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, projectsCmd, analyzeCmd, analyzeFileCmd, checkCmd, cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd, cacheClearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and installs the JSON logger on w at the
// configured level.
func loadConfig(w io.Writer) (*config.Config, error) {
	setupLogging(w)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	lvl := cfg.Agent.LogLevel
	if logLevel != "" {
		lvl = logLevel
	}
	parsed, err := config.ParseLevel(lvl)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	level.Set(parsed)
	return cfg, nil
}

func setupLogging(w io.Writer) {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
