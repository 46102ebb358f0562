// Command ada-harness drives the autonomous coding agent harness: the
// scheduler loop, the telemetry/alerts surface, and operator utilities.
//
// Each subcommand file declares its own *cobra.Command var and
// registers itself onto rootCmd from an init() in that file.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ada-harness",
	Short: "Autonomous coding agent harness",
	Long:  "ada-harness runs an unattended backlog-driven coding agent loop: session scheduling, verification gates, VCS commits, and a telemetry API.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}
