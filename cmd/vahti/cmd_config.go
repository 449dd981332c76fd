package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/engine"
)

var (
	setAutoApprove float64
	setReview      float64
	setForceManual string
	setActor       string
)

// configCmd represents the config command group
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the engine thresholds",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current engine config",
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change engine thresholds",
	Long: `Change the confidence thresholds or the force-manual-approval flag.

Changes take effect for proposals created afterwards; proposals already
past the gate keep their status. Every change is audited with before
and after values.`,
	Example: `  vahti config set --auto-approve 0.95
  vahti config set --force-manual true      # Kill switch: no auto-approvals
  vahti config set --force-manual false`,
	RunE: runConfigSet,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configSetCmd.Flags().Float64Var(&setAutoApprove, "auto-approve", -1, "Auto-approve threshold in [0,1]")
	configSetCmd.Flags().Float64Var(&setReview, "review", -1, "Review threshold in [0,1]")
	configSetCmd.Flags().StringVar(&setForceManual, "force-manual", "", "Force manual approval for everything (true/false)")
	configSetCmd.Flags().StringVar(&setActor, "actor", "cli", "Actor recorded in the audit log")
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	app, err := openApp(context.Background())
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.engine.Config()
	fmt.Printf("auto_approve_threshold: %.2f\n", cfg.AutoApproveThreshold)
	fmt.Printf("review_threshold:       %.2f\n", cfg.ReviewThreshold)
	fmt.Printf("force_manual_approval:  %t\n", cfg.ForceManualApproval)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	patch := engine.ConfigPatch{}
	if setAutoApprove >= 0 {
		patch.AutoApproveThreshold = &setAutoApprove
	}
	if setReview >= 0 {
		patch.ReviewThreshold = &setReview
	}
	switch setForceManual {
	case "":
	case "true":
		v := true
		patch.ForceManualApproval = &v
	case "false":
		v := false
		patch.ForceManualApproval = &v
	default:
		return fmt.Errorf("--force-manual must be true or false, got %q", setForceManual)
	}

	if patch.AutoApproveThreshold == nil && patch.ReviewThreshold == nil && patch.ForceManualApproval == nil {
		return fmt.Errorf("nothing to change, pass --auto-approve, --review or --force-manual")
	}

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg, err := app.engine.UpdateConfig(ctx, patch, setActor)
	if err != nil {
		return err
	}

	fmt.Println("Engine config updated:")
	fmt.Printf("  auto_approve_threshold: %.2f\n", cfg.AutoApproveThreshold)
	fmt.Printf("  review_threshold:       %.2f\n", cfg.ReviewThreshold)
	fmt.Printf("  force_manual_approval:  %t\n", cfg.ForceManualApproval)
	return nil
}
