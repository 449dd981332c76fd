package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/config"
)

var auditSince time.Duration

// auditCmd represents the audit command group
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print audit entries as JSON lines",
	Example: `  vahti audit replay              # Everything
  vahti audit replay --since 24h  # Last day`,
	RunE: runAuditReplay,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the audit log",
	RunE:  runAuditStats,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditCmd.AddCommand(auditStatsCmd)

	auditReplayCmd.Flags().DurationVar(&auditSince, "since", 0, "Only entries newer than this (e.g. 24h)")
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	var since time.Time
	if auditSince > 0 {
		since = time.Now().Add(-auditSince)
	}

	encoder := json.NewEncoder(os.Stdout)
	return audit.Replay(cfg.AuditDir, since, func(entry *audit.Entry) error {
		return encoder.Encode(entry)
	})
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	stats, err := audit.GetStats(cfg.AuditDir)
	if err != nil {
		return err
	}

	fmt.Printf("Files:    %d\n", stats.TotalFiles)
	fmt.Printf("Entries:  %d\n", stats.TotalEntries)
	fmt.Printf("Sequence: %d..%d\n", stats.FirstSequence, stats.LastSequence)
	for event, count := range stats.ByEvent {
		fmt.Printf("  %-20s %d\n", event, count)
	}
	return nil
}
