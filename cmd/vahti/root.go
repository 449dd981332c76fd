package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "vahti",
		Short: "Confidence-Gated Action Engine",
		Long: `Vahti - Confidence-Gated Action Engine

Vahti turns security alerts into containment actions with a confidence
gate in between. Alerts from multiple sources are correlated into a
confidence score; high-confidence incidents act autonomously, medium
confidence waits for a human, low confidence only watches.

Every proposal, decision and execution is written to an append-only
audit log.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`Vahti {{.Version}} - Confidence-Gated Action Engine
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "vahti.yaml", "Path to config file")
}
