package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/steveyegge/minder/internal/types"
)

var cleanupAllFlag bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Destroy orphaned minder droplets",
	Long: `Destroy every minder-tagged droplet whose task is no longer in flight.
With --all, destroy every minder-tagged droplet including ones backing
in-flight tasks.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		manager := newVMManager()
		store := openStore()

		droplets, err := manager.Reconcile(ctx, activeTickets(store))
		if err != nil {
			fatal("%v", err)
		}

		destroyed := 0
		failed := 0
		for _, d := range droplets {
			if !d.Orphan && !cleanupAllFlag {
				continue
			}
			instance := &types.VMInstance{ID: d.ID, IP: d.IP, TicketID: d.TicketID}
			if err := manager.Teardown(ctx, instance); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to destroy droplet %d: %v\n", d.ID, err)
				failed++
				continue
			}
			destroyed++
		}

		fmt.Printf("Destroyed %d droplet(s)", destroyed)
		if failed > 0 {
			fmt.Printf(", %d failed", failed)
		}
		fmt.Println()
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupAllFlag, "all", false, "Destroy all managed droplets, not just orphans")
	rootCmd.AddCommand(cleanupCmd)
}
