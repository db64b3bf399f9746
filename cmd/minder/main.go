// minder watches a GitHub repository for labeled issues, triages them with
// an AI supervisor, asks humans for clarification when an issue is not
// actionable, and runs autonomous development sessions on disposable
// DigitalOcean droplets for the ones that are.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	repoFlag       string
	statePathFlag  string
	eventsPathFlag string
	repoConfigFlag string
)

var rootCmd = &cobra.Command{
	Use:   "minder",
	Short: "Autonomous issue triage and development agent",
	Long: `minder triages labeled GitHub issues with an AI supervisor, requests
clarification from humans when an issue is not actionable, and drives
autonomous development sessions on disposable cloud VMs for the ones
that are. Every VM it creates is tagged and guaranteed to be destroyed.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", os.Getenv("MINDER_REPO"),
		"Repository to watch (owner/repo); defaults to MINDER_REPO")
	rootCmd.PersistentFlags().StringVar(&statePathFlag, "state", "",
		"Path to the agent state document (default .minder/state.json)")
	rootCmd.PersistentFlags().StringVar(&eventsPathFlag, "events-db", "",
		"Path to the event log database (default .minder/events.db)")
	rootCmd.PersistentFlags().StringVar(&repoConfigFlag, "repo-config", "",
		"Path to a .minder.yml (default: use built-in defaults)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
