package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a snapshot of the current backlog and alert state",
	Long:  "Reads the persisted backlog, checkpoint, and unread alerts without starting the scheduler loop — safe to run while a harness loop is active elsewhere.",
	Run: func(cmd *cobra.Command, args []string) {
		root, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		ws, err := openWorkspace(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		bl, err := ws.backlog.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("%s %s\n\n", cyan("Project:"), bl.ProjectName)

		counts := map[types.FeatureStatus]int{}
		for _, f := range bl.Features {
			counts[f.Status]++
		}
		fmt.Printf("%s %d pending, %d in_progress, %d completed, %d blocked (of %d)\n\n",
			cyan("Features:"), counts[types.StatusPending], counts[types.StatusInProgress],
			counts[types.StatusCompleted], counts[types.StatusBlocked], len(bl.Features))

		if cp, err := ws.checkpoint.Load(); err == nil && cp != nil {
			fmt.Printf("%s feature=%s attempt=%d last_good_commit=%s\n\n", yellow("Checkpoint:"), cp.FeatureID, cp.Attempt, cp.LastGoodCommit)
		}

		for _, f := range bl.Features {
			var mark string
			switch f.Status {
			case types.StatusCompleted:
				mark = green("✓")
			case types.StatusBlocked:
				mark = red("✗")
			case types.StatusInProgress:
				mark = yellow("→")
			default:
				mark = gray("·")
			}
			fmt.Printf("%s %-24s %-12s sessions=%d\n", mark, f.ID, f.Status, f.SessionsSpent)
		}

		unread := ws.alerts.UnreadCount()
		if unread > 0 {
			fmt.Printf("\n%s %d unread (see `ada-harness alerts list`)\n", red("Alerts:"), unread)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
