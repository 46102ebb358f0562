package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Fr3nn3r/ada-harness/internal/agentrun"
	"github.com/Fr3nn3r/ada-harness/internal/retry"
	"github.com/Fr3nn3r/ada-harness/internal/scheduler"
	"github.com/Fr3nn3r/ada-harness/internal/types"
	"github.com/Fr3nn3r/ada-harness/internal/verify"
)

var (
	runAgentBinary string
	runAllowDirty  bool
	runServeAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the harness scheduler loop",
	Long:  "Drains the backlog one feature at a time: selects a feature, runs a coding session, verifies the result, commits, and repeats until the backlog is complete or a feature blocks.",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(int(runHarness(cmd.Context())))
	},
}

func init() {
	runCmd.Flags().StringVar(&runAgentBinary, "agent-binary", "claude", "subprocess agent binary to invoke when session_mode is subprocess")
	runCmd.Flags().BoolVar(&runAllowDirty, "allow-dirty", false, "allow a dirty working tree at preflight")
	runCmd.Flags().StringVar(&runServeAddr, "serve", "", "also serve the telemetry API on this address while the loop runs, e.g. :8091")
	rootCmd.AddCommand(runCmd)
}

func runHarness(parentCtx context.Context) scheduler.ExitCode {
	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return scheduler.ExitError
	}

	ws, err := openWorkspace(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return scheduler.ExitPreflight
	}

	var transport agentrun.AgentTransport
	if ws.cfg.SessionMode == "streaming" {
		transport = agentrun.NewStreamingTransport(os.Getenv("ANTHROPIC_API_KEY"))
	} else {
		transport = agentrun.NewSubprocessTransport(runAgentBinary)
	}
	runtime := agentrun.New(transport, agentrun.Config{
		ContextThresholdPercent: ws.cfg.ContextThresholdPercent,
		SilenceWindow:           ws.cfg.SilenceWindow(),
		HardTimeout:             ws.cfg.SessionTimeout(),
	})

	retryCfg := retry.Config{
		Base:            secondsToDuration(ws.cfg.Retry.BaseSeconds),
		RateLimitBase:   secondsToDuration(ws.cfg.Retry.RateLimitBaseSeconds),
		ExponentialBase: ws.cfg.Retry.ExponentialBase,
		MaxDelay:        secondsToDuration(ws.cfg.Retry.MaxDelaySeconds),
		Jitter:          ws.cfg.Retry.Jitter,
		MaxRetries:      ws.cfg.Retry.MaxRetries,
	}
	if retryCfg.MaxRetries == 0 {
		retryCfg = retry.DefaultConfig()
	}

	gates := ws.cfg.DefaultQualityGates
	verifyCfg := verify.Config{
		LintCommand:      gates.LintCommand,
		TypeCheckCommand: gates.TypeCheckCommand,
		UnitTestCommand:  ws.cfg.TestCommand,
		UnitTestTimeout:  10 * time.Minute,
		RequireApproval:  gates.RequireApproval,
		Approver:         interactiveApprover,
	}

	sched := scheduler.New(scheduler.Deps{
		Backlog:      ws.backlog,
		Checkpoint:   ws.checkpoint,
		Progress:     ws.progress,
		SessionLog:   ws.sessions,
		VCS:          ws.vcs,
		Runtime:      runtime,
		VerifyCfg:    verifyCfg,
		Retry:        retryCfg,
		Bus:          ws.bus,
		RenderPrompt: renderPrompt,
		Model:        ws.cfg.Model,
		ProjectRoot:  root,
	})

	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Preflight(ctx, runAllowDirty); err != nil {
		fmt.Fprintf(os.Stderr, "preflight failed: %v\n", err)
		return scheduler.ExitPreflight
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s starting harness loop in %s\n", green("ada-harness"), root)

	// The telemetry server and the scheduler loop run as sibling
	// goroutines under one errgroup: when the loop finishes it cancels
	// telemetryCtx so the server shuts down with it, and a telemetry
	// server error is surfaced rather than silently logged.
	g, telemetryCtx := errgroup.WithContext(ctx)
	var exitCode scheduler.ExitCode
	telemetryCtx, cancelTelemetry := context.WithCancel(telemetryCtx)
	defer cancelTelemetry()

	if runServeAddr != "" {
		srv := newTelemetryServer(ws, sched)
		g.Go(func() error {
			return serveTelemetry(telemetryCtx, runServeAddr, srv)
		})
	}

	g.Go(func() error {
		defer cancelTelemetry()
		exitCode = sched.Run(ctx)
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "telemetry server: %v\n", err)
	}

	return exitCode
}

// renderPrompt builds the prompt text handed to the agent for one
// feature, grounded on original_source/prompts.py's session prompt
// template: acceptance criteria enumerated as AC-N markers so the
// Session Runtime's completion check can find them, plus any handoff
// notes carried over from a prior attempt.
func renderPrompt(f *types.Feature, handoffNotes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working on feature %s: %s\n\n", f.ID, f.Name)
	if f.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", f.Description)
	}
	if len(f.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for i, ac := range f.AcceptanceCriteria {
			fmt.Fprintf(&b, "AC-%d: %s\n", i+1, ac)
		}
		b.WriteString("\n")
	}
	if handoffNotes != "" {
		fmt.Fprintf(&b, "Notes from the previous session:\n%s\n\n", handoffNotes)
	}
	b.WriteString("When every acceptance criterion above is satisfied, state each AC-N marker explicitly and declare the task complete.\n")
	return b.String()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
