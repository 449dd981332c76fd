package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	decideActor  string
	rejectReason string
)

// approveCmd represents the approve command
var approveCmd = &cobra.Command{
	Use:     "approve <proposal-id>",
	Short:   "Approve a pending proposal for execution",
	Args:    cobra.ExactArgs(1),
	Example: `  vahti approve prop-7f3a2b --actor oncall@corp`,
	RunE:    runApprove,
}

// rejectCmd represents the reject command
var rejectCmd = &cobra.Command{
	Use:     "reject <proposal-id>",
	Short:   "Reject a pending proposal",
	Args:    cobra.ExactArgs(1),
	Example: `  vahti reject prop-7f3a2b --reason "known maintenance window"`,
	RunE:    runReject,
}

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)

	approveCmd.Flags().StringVar(&decideActor, "actor", "cli", "Actor recorded in the audit log")
	rejectCmd.Flags().StringVar(&decideActor, "actor", "cli", "Actor recorded in the audit log")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the proposal is rejected")
	_ = rejectCmd.MarkFlagRequired("reason")
}

func runApprove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	p, err := app.engine.Approve(ctx, args[0], decideActor)
	if err != nil {
		return err
	}

	fmt.Printf("Proposal %s approved, %s on %s will execute on the next daemon cycle\n",
		p.ID, p.ActionType, p.Target)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	p, err := app.engine.Reject(ctx, args[0], decideActor, rejectReason)
	if err != nil {
		return err
	}

	fmt.Printf("Proposal %s rejected\n", p.ID)
	return nil
}
