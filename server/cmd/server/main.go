// Command projectlens-server receives project health reports from
// projectlens-agent instances and serves them over REST and WebSocket.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/projectlens/server/internal/config"
)

var (
	configPath string
	logLevel   string
	uiDir      string

	level = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "projectlens-server",
	Short: "Project health server",
	Long: `projectlens-server accepts report batches from agents on
POST /api/v1/reports, keeps the latest report per project, evaluates alert
rules, optionally records every report in SQLite, and serves the portfolio
over REST and WebSocket.`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&uiDir, "ui-dir", "", "serve the dashboard static files from this directory; empty disables")

	rootCmd.AddCommand(pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	lvl := cfg.Server.LogLevel
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
