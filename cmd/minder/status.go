package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/minder/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent state: stats, in-flight tasks, and issue records",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		st, err := store.Load()
		if err != nil {
			fatal("failed to load state: %v", err)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Minder Status ==="))

		fmt.Printf("%s\n", yellow("Agent:"))
		if st.LastActiveAt.IsZero() {
			fmt.Printf("  %s\n", gray("never active"))
		} else {
			fmt.Printf("  Last active: %s (%v ago)\n",
				st.LastActiveAt.Format("2006-01-02 15:04:05"),
				time.Since(st.LastActiveAt).Round(time.Second))
		}
		fmt.Printf("  Cycles run:  %d\n", st.Stats.TotalCyclesRun)
		fmt.Printf("  Issues:      %d processed, %d comments posted\n",
			st.Stats.TotalIssuesProcessed, st.Stats.TotalCommentsPosted)
		fmt.Printf("  Concurrency: %d in flight / %d max\n\n",
			len(st.CurrentTasks), st.Config.MaxConcurrentTasks)

		fmt.Printf("%s\n", yellow("In-flight tasks:"))
		if len(st.CurrentTasks) == 0 {
			fmt.Printf("  %s\n", gray("none"))
		}
		for _, task := range st.CurrentTasks {
			fmt.Printf("  %s %s %s#%d (started %v ago)\n",
				green("●"), task.Type,
				task.RepoFullName, task.IssueNumber,
				time.Since(task.StartedAt).Round(time.Second))
		}
		fmt.Println()

		counts := map[types.IssueStatusValue]int{}
		awaiting := []types.IssueStatus{}
		for _, rec := range st.ProcessedIssues {
			counts[rec.Status]++
			if rec.Status == types.StatusAwaitingClarification {
				awaiting = append(awaiting, rec)
			}
		}

		fmt.Printf("%s\n", yellow("Issue records:"))
		if len(st.ProcessedIssues) == 0 {
			fmt.Printf("  %s\n", gray("none"))
		}
		for status, n := range counts {
			fmt.Printf("  %-24s %d\n", status, n)
		}
		if len(awaiting) > 0 {
			fmt.Printf("\n%s\n", yellow("Awaiting clarification:"))
			for _, rec := range awaiting {
				since := ""
				if rec.Clarification != nil {
					since = fmt.Sprintf(" since %s", rec.Clarification.RequestedAt.Format("2006-01-02"))
				}
				fmt.Printf("  %s%s\n", rec.Key(), since)
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
