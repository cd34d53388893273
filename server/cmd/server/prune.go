package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/projectlens/server/internal/history"
)

var pruneBefore string

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored report history older than the retention window",
	Args:  cobra.NoArgs,
	RunE:  pruneHistory,
}

func init() {
	pruneCmd.Flags().StringVar(&pruneBefore, "before", "", "delete reports generated before this date (YYYY-MM-DD) instead of using server.storage.retention")
}

func pruneHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sc := cfg.Server.Storage
	if !sc.Enabled() {
		return errors.New("prune: server.storage.backend is not set")
	}

	var cutoff time.Time
	switch {
	case pruneBefore != "":
		cutoff, err = time.Parse(time.DateOnly, pruneBefore)
		if err != nil {
			return fmt.Errorf("prune: --before: %w", err)
		}
	case sc.Retention > 0:
		cutoff = time.Now().Add(-sc.Retention)
	default:
		return errors.New("prune: retention is zero and --before not given")
	}

	hs, err := history.Open(sc.Path)
	if err != nil {
		return err
	}
	defer hs.Close()

	n, err := hs.Prune(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d reports generated before %s\n", n, cutoff.UTC().Format(time.RFC3339))
	return nil
}
