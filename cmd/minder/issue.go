package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
)

var issueCmd = &cobra.Command{
	Use:   "issue <number>",
	Short: "Process a single issue through the full lifecycle",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		number, err := strconv.Atoi(args[0])
		if err != nil {
			fatal("invalid issue number %q", args[0])
		}

		ctx := context.Background()
		orch, eventLog := newOrchestrator(ctx)
		defer eventLog.Close()

		if err := orch.HandleIssue(ctx, number); err != nil {
			fatal("failed to process issue #%d: %v", number, err)
		}
	},
}

func init() {
	rootCmd.AddCommand(issueCmd)
}
