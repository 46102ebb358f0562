package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

var alertsListUnreadOnly bool

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and acknowledge harness alerts",
	Long:  "Commands for listing and acknowledging the notifications the Alert Store raises from Event Bus activity (session failures, handoffs, blocked features).",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustOpenWorkspaceHere()
		severityColor := map[types.AlertSeverity]func(a ...interface{}) string{
			types.AlertInfo:    color.New(color.FgCyan).SprintFunc(),
			types.AlertWarning: color.New(color.FgYellow).SprintFunc(),
			types.AlertError:   color.New(color.FgRed).SprintFunc(),
			types.AlertSuccess: color.New(color.FgGreen).SprintFunc(),
		}
		list := ws.alerts.List(alertsListUnreadOnly)
		if len(list) == 0 {
			fmt.Println("no alerts")
			return
		}
		for _, a := range list {
			paint := severityColor[a.Severity]
			if paint == nil {
				paint = fmt.Sprint
			}
			readMark := " "
			if a.Read {
				readMark = "✓"
			}
			fmt.Printf("[%s] %s %-8s %s: %s\n", readMark, a.Timestamp.Format("2006-01-02 15:04"), paint(a.Severity), a.Title, a.Message)
		}
	},
}

var alertsReadCmd = &cobra.Command{
	Use:   "read [alert-id]",
	Short: "Mark one alert read",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustOpenWorkspaceHere()
		if err := ws.alerts.MarkRead(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	},
}

var alertsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every alert read",
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustOpenWorkspaceHere()
		if err := ws.alerts.MarkAllRead(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	},
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss [alert-id]",
	Short: "Dismiss one alert",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustOpenWorkspaceHere()
		if err := ws.alerts.Dismiss(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	alertsListCmd.Flags().BoolVar(&alertsListUnreadOnly, "unread", false, "show only unread alerts")
	alertsCmd.AddCommand(alertsListCmd, alertsReadCmd, alertsReadAllCmd, alertsDismissCmd)
	rootCmd.AddCommand(alertsCmd)
}

// mustOpenWorkspaceHere opens the workspace rooted at the current
// directory or exits the process, used by the alerts subcommand tree
// where every leaf needs the same setup.
func mustOpenWorkspaceHere() *workspace {
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
	return ws
}
