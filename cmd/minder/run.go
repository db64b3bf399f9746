package main

import (
	"context"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one orchestration cycle and exit",
	Long: `Pull candidate issues, triage them, run development sessions for the
actionable ones, and check open clarification rounds for answers. Exits
after a single pass; use 'minder serve' for continuous operation.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		orch, eventLog := newOrchestrator(ctx)
		defer eventLog.Close()

		if err := orch.RunCycle(ctx); err != nil {
			fatal("cycle failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
