package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/engine"
	"github.com/yairfalse/vahti/types"
)

var (
	proposeTarget string
	proposeAction string
	proposeActor  string
	proposeDryRun bool
)

// proposeCmd represents the propose command
var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Evaluate a target and propose a containment action",
	Long: `Gather evidence for a target, correlate it into a confidence score,
and create an action proposal if the score clears the review threshold.

A score at or above the auto-approve threshold creates an approved
proposal that the daemon executes without a human. A score in the
review band creates a pending proposal waiting for approve/reject.
Below the review band nothing is created; the outcome is only logged.`,
	Example: `  vahti propose --target i-0123456789 --action isolate_host
  vahti propose --target 203.0.113.7 --action block_ip`,
	RunE: runPropose,
}

func init() {
	rootCmd.AddCommand(proposeCmd)

	proposeCmd.Flags().StringVarP(&proposeTarget, "target", "t", "", "Target to evaluate (instance id, IP, account)")
	proposeCmd.Flags().StringVarP(&proposeAction, "action", "a", string(types.ActionIsolateHost), "Action type (isolate_host, block_ip, block_domain, disable_account)")
	proposeCmd.Flags().StringVar(&proposeActor, "actor", "cli", "Actor recorded in the audit log")
	proposeCmd.Flags().BoolVar(&proposeDryRun, "dry-run", false, "Show the gate decision without creating anything")
	_ = proposeCmd.MarkFlagRequired("target")
}

func runPropose(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	req := engine.ProposeRequest{
		Target:     proposeTarget,
		ActionType: types.ActionType(proposeAction),
		CreatedBy:  proposeActor,
	}

	if proposeDryRun {
		outcome, err := app.engine.Preview(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Dry run: confidence %.2f would %s\n", outcome.Confidence, outcome.Decision)
		printFactors(outcome.Factors)
		return nil
	}

	outcome, err := app.engine.Propose(ctx, req)
	switch {
	case errors.Is(err, types.ErrInsufficientEvidence):
		fmt.Printf("No alerts found for %s, nothing proposed\n", proposeTarget)
		return nil
	case errors.Is(err, types.ErrMonitorOnly):
		fmt.Printf("Confidence %.2f below review threshold, monitoring only\n", outcome.Confidence)
		printFactors(outcome.Factors)
		return nil
	case err != nil:
		var dup *types.DuplicateTargetError
		if errors.As(err, &dup) {
			fmt.Printf("Target already has active proposal %s, evidence merged\n", dup.ActiveProposalID)
			return nil
		}
		return err
	}

	p := outcome.Proposal
	fmt.Printf("Proposal %s created\n", p.ID)
	fmt.Printf("  Target:     %s\n", p.Target)
	fmt.Printf("  Action:     %s\n", p.ActionType)
	fmt.Printf("  Confidence: %.2f\n", p.Confidence)
	fmt.Printf("  Status:     %s\n", p.Status)
	if outcome.SupersededID != "" {
		fmt.Printf("  Superseded: %s\n", outcome.SupersededID)
	}
	printFactors(p.Factors)
	return nil
}

func printFactors(factors []types.CorrelationFactor) {
	for _, f := range factors {
		fmt.Printf("  + %.2f  %s\n", f.Weight, f.Name)
	}
}
