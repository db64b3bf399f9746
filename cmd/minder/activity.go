package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/minder/internal/events"
)

var (
	activityLimitFlag int
	activityIssueFlag string
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent agent activity from the event log",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		eventLog := openEvents()
		defer eventLog.Close()

		var (
			list []*events.Event
			err  error
		)
		if activityIssueFlag != "" {
			list, err = eventLog.ByIssue(ctx, activityIssueFlag)
		} else {
			list, err = eventLog.Recent(ctx, activityLimitFlag)
		}
		if err != nil {
			fatal("failed to read event log: %v", err)
		}

		if len(list) == 0 {
			fmt.Println("No activity recorded.")
			return
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, event := range list {
			marker := " "
			switch event.Severity {
			case events.SeverityWarning:
				marker = yellow("!")
			case events.SeverityError:
				marker = red("✗")
			}
			scope := ""
			if event.IssueKey != "" {
				scope = event.IssueKey + " "
			}
			fmt.Printf("%s %s %s[%s] %s\n",
				gray(event.Timestamp.Format("2006-01-02 15:04:05")),
				marker, scope, event.Type, event.Message)
		}
	},
}

func init() {
	activityCmd.Flags().IntVar(&activityLimitFlag, "limit", 50, "Maximum events to show")
	activityCmd.Flags().StringVar(&activityIssueFlag, "issue", "", "Show all events for one issue key (owner/repo#N)")
	rootCmd.AddCommand(activityCmd)
}
