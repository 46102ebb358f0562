package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Fr3nn3r/ada-harness/internal/scheduler"
)

var doctorVerbose bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the harness workspace and environment for common problems",
	Long: `Runs the same preflight checks the scheduler loop runs before starting,
plus a few standalone environment checks, without driving any coding
session.

Exit codes:
  0 - all checks passed
  1 - one or more checks failed
  2 - a critical failure prevents the harness from running at all`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runDoctor())
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "print the underlying error for each failed check")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor() int {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Printf("Running ada-harness health checks...\n\n")

	var failures, warnings, critical []string

	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s cannot determine working directory: %v\n", red("✗"), err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Printf("%s Workspace and config\n", cyan("→"))
	ws, err := openWorkspace(root)
	if err != nil {
		critical = append(critical, fmt.Sprintf("workspace: %v", err))
		fmt.Printf("  %s cannot open workspace\n", red("✗"))
		if doctorVerbose {
			fmt.Printf("    %v\n", err)
		}
	} else {
		fmt.Printf("  %s .ada/ workspace and ada.config.yaml load cleanly\n", green("✓"))
	}

	fmt.Printf("%s Backlog\n", cyan("→"))
	if ws != nil {
		if bl, err := ws.backlog.Load(); err != nil {
			failures = append(failures, fmt.Sprintf("backlog: %v", err))
			fmt.Printf("  %s %s does not load or validate\n", red("✗"), ws.cfg.BacklogFile)
			if doctorVerbose {
				fmt.Printf("    %v\n", err)
			}
		} else {
			fmt.Printf("  %s %d features, project %q\n", green("✓"), len(bl.Features), bl.ProjectName)
			if ws.backlog.HasUnrunnableRemainder() {
				warnings = append(warnings, "backlog has a remainder of features that cannot be selected (blocked or cyclic dependencies)")
				fmt.Printf("  %s remaining features include an unrunnable dependency deadlock\n", yellow("!"))
			}
		}
	} else {
		fmt.Printf("  %s skipped, workspace did not open\n", yellow("!"))
	}

	fmt.Printf("%s Git repository\n", cyan("→"))
	if ws != nil {
		status, err := ws.vcs.Status(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("git status: %v", err))
			fmt.Printf("  %s git status failed\n", red("✗"))
			if doctorVerbose {
				fmt.Printf("    %v\n", err)
			}
		} else if !status.Clean {
			warnings = append(warnings, fmt.Sprintf("working tree has %d untracked/modified path(s)", len(status.Untracked)))
			fmt.Printf("  %s working tree is dirty (%d path(s)); the loop will refuse to start without --allow-dirty\n", yellow("!"), len(status.Untracked))
		} else {
			fmt.Printf("  %s working tree clean\n", green("✓"))
		}
	} else {
		fmt.Printf("  %s skipped, workspace did not open\n", yellow("!"))
	}

	fmt.Printf("%s Agent binary\n", cyan("→"))
	agentBinary := "claude"
	if path, err := exec.LookPath(agentBinary); err != nil {
		warnings = append(warnings, fmt.Sprintf("agent binary %q not found on PATH", agentBinary))
		fmt.Printf("  %s %q not found on PATH (only needed for session_mode: subprocess)\n", yellow("!"), agentBinary)
	} else {
		fmt.Printf("  %s found at %s\n", green("✓"), path)
	}

	fmt.Printf("%s Disk space\n", cyan("→"))
	if free, err := scheduler.FreeDiskBytes(root); err != nil {
		warnings = append(warnings, fmt.Sprintf("disk space check unavailable: %v", err))
		fmt.Printf("  %s could not check free disk space\n", yellow("!"))
	} else if free < scheduler.MinFreeDiskBytes {
		failures = append(failures, fmt.Sprintf("only %d bytes free, below the %d byte minimum", free, scheduler.MinFreeDiskBytes))
		fmt.Printf("  %s only %.1f MB free\n", red("✗"), float64(free)/(1024*1024))
	} else {
		fmt.Printf("  %s %.1f MB free\n", green("✓"), float64(free)/(1024*1024))
	}

	fmt.Println()
	switch {
	case len(critical) > 0:
		fmt.Printf("%s %d critical failure(s):\n", red("CRITICAL"), len(critical))
		for _, c := range critical {
			fmt.Printf("  - %s\n", c)
		}
		return 2
	case len(failures) > 0:
		fmt.Printf("%s %d check(s) failed, %d warning(s)\n", red("FAILED"), len(failures), len(warnings))
		for _, f := range failures {
			fmt.Printf("  - %s\n", f)
		}
		return 1
	case len(warnings) > 0:
		fmt.Printf("%s all checks passed with %d warning(s)\n", yellow("OK"), len(warnings))
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		return 0
	default:
		fmt.Printf("%s all checks passed\n", green("OK"))
		return 0
	}
}
