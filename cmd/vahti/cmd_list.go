package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/registry"
	"github.com/yairfalse/vahti/types"
)

var (
	listStatus string
	listTarget string
	listOutput string
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List action proposals",
	Example: `  vahti list                      # All proposals
  vahti list --status pending     # Awaiting a decision
  vahti list --target i-012345    # One target's history
  vahti list -o json              # Machine-readable output`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Filter by status (pending, approved, rejected, executing, executed, failed)")
	listCmd.Flags().StringVarP(&listTarget, "target", "t", "", "Filter by target")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format: table, json")
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := openApp(context.Background())
	if err != nil {
		return err
	}
	defer app.Close()

	proposals, err := app.engine.List(registry.Filter{
		Status: types.Status(listStatus),
		Target: listTarget,
	})
	if err != nil {
		return err
	}

	if listOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(proposals)
	}

	if len(proposals) == 0 {
		fmt.Println("No proposals found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tACTION\tCONFIDENCE\tSTATUS\tCREATED")
	for _, p := range proposals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
			p.ID, p.Target, p.ActionType, p.Confidence, p.Status,
			p.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
