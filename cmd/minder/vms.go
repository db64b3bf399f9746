package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var vmsCmd = &cobra.Command{
	Use:   "vms",
	Short: "List managed droplets and their hourly cost",
	Long: `Enumerate every droplet carrying the minder tag, flag orphans (droplets
whose task is no longer in flight), and sum the hourly cost. This is the
audit view; 'minder cleanup' destroys what it flags.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		manager := newVMManager()
		store := openStore()

		droplets, err := manager.Reconcile(ctx, activeTickets(store))
		if err != nil {
			fatal("%v", err)
		}

		if len(droplets) == 0 {
			fmt.Println("No managed droplets.")
			return
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()

		fmt.Printf("%s\n", yellow("Managed droplets:"))
		totalCost := 0.0
		orphans := 0
		for _, d := range droplets {
			tag := green("active")
			if d.Orphan {
				tag = red("orphan")
				orphans++
			}
			fmt.Printf("  %-8d %-20s %-15s %-8s %s ($%.3f/hr)\n",
				d.ID, d.Name, d.IP, d.Status, tag, d.HourlyCost)
			totalCost += d.HourlyCost
		}
		fmt.Printf("\nTotal: %d droplet(s), $%.3f/hr", len(droplets), totalCost)
		if orphans > 0 {
			fmt.Printf(", %s", red(fmt.Sprintf("%d orphan(s)", orphans)))
		}
		fmt.Println()
		if orphans > 0 {
			fmt.Println("Run 'minder cleanup' to destroy orphaned droplets.")
		}
	},
}

func init() {
	rootCmd.AddCommand(vmsCmd)
}
