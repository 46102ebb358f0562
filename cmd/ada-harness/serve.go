package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Fr3nn3r/ada-harness/internal/scheduler"
	"github.com/Fr3nn3r/ada-harness/internal/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the telemetry API without running the scheduler loop",
	Long:  "Starts the read-only HTTP/SSE telemetry surface over the current project's persisted state, without driving any coding sessions. Useful for inspecting a project between harness runs.",
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
		if _, err := ws.backlog.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		idle := &idleStatus{}
		srv := telemetry.New(ws.backlog, ws.progress, ws.sessions, ws.alerts, ws.bus, idle)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("serving telemetry API on %s\n", serveAddr)
		if err := telemetry.Serve(ctx, serveAddr, srv); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry server: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8091", "address to serve the telemetry API on")
	rootCmd.AddCommand(serveCmd)
}

// idleStatus implements telemetry.StatusProvider for the standalone
// `serve` command, which has no live scheduler to ask.
type idleStatus struct{}

func (idleStatus) Running() bool               { return false }
func (idleStatus) CurrentFeatureID() string     { return "" }
func (idleStatus) CurrentSessionID() string     { return "" }
func (idleStatus) ContextUsagePercent() float64 { return 0 }

// newTelemetryServer builds a telemetry.Server bound to ws and reporting
// live status from sched, used by `run --serve`.
func newTelemetryServer(ws *workspace, sched *scheduler.Scheduler) *telemetry.Server {
	return telemetry.New(ws.backlog, ws.progress, ws.sessions, ws.alerts, ws.bus, sched)
}

func serveTelemetry(ctx context.Context, addr string, s *telemetry.Server) error {
	return telemetry.Serve(ctx, addr, s)
}
