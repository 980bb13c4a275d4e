// Copyright 2024 Package Tracking System
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gmail-triage/internal/cli"
	"gmail-triage/internal/email"
)

var (
	historyLimit  int
	historyFormat string
	historyQuiet  bool
	historyPrune  time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent triage runs",
	Long: `Show recent triage runs recorded in the run ledger, newest first,
followed by totals across all recorded runs.`,
	Example: `  gmail-triage history
  gmail-triage history --limit 5 --format json
  gmail-triage history --prune 720h`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs to show")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "output format (table, json)")
	historyCmd.Flags().BoolVarP(&historyQuiet, "quiet", "q", false, "only print run IDs")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete runs older than this before listing")

	rootCmd.AddCommand(historyCmd)
}

// historyLedger is the read side of the run ledger
type historyLedger interface {
	GetRecentRuns(limit int) ([]email.RunRecord, error)
	GetStats() (*email.LedgerStats, error)
	Cleanup(olderThan time.Time) (int64, error)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	cfg, err := loadConfiguration()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if cfg.Processing.StateDBPath == "" {
		return fmt.Errorf("run history is disabled: processing.state_db_path is empty")
	}

	ledger, err := email.NewSQLiteRunLedger(cfg.Processing.StateDBPath)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer ledger.Close()

	out := cli.NewOutputFormatter(historyFormat, historyQuiet, noColor)
	return showHistory(ledger, out, historyLimit, historyPrune, time.Now())
}

// showHistory optionally prunes the ledger, then prints recent runs and
// aggregate statistics
func showHistory(ledger historyLedger, out *cli.OutputFormatter, limit int, prune time.Duration, now time.Time) error {
	if prune > 0 {
		removed, err := ledger.Cleanup(now.Add(-prune))
		if err != nil {
			return err
		}
		out.PrintInfo(fmt.Sprintf("Pruned %d runs older than %s", removed, prune))
	}

	runs, err := ledger.GetRecentRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}
	if err := out.PrintRuns(runs); err != nil {
		return err
	}

	stats, err := ledger.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read run statistics: %w", err)
	}
	return out.PrintStats(stats)
}
