// Package scheduler implements the Harness Loop: the top-level
// orchestrator tying the Backlog Store, Session Runtime, Error
// Classifier, Retry Policy, Verification Pipeline, VCS Adapter,
// Checkpoint Store, and Event Bus into one sequential loop: preflight ->
// resume -> select/run/classify/verify/commit -> shutdown.
//
// The per-session state machine lives in the Session Runtime
// (internal/agentrun) and is not reimplemented here.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Fr3nn3r/ada-harness/internal/agentrun"
	"github.com/Fr3nn3r/ada-harness/internal/backlog"
	"github.com/Fr3nn3r/ada-harness/internal/checkpoint"
	"github.com/Fr3nn3r/ada-harness/internal/classify"
	"github.com/Fr3nn3r/ada-harness/internal/eventbus"
	"github.com/Fr3nn3r/ada-harness/internal/progresslog"
	"github.com/Fr3nn3r/ada-harness/internal/retry"
	"github.com/Fr3nn3r/ada-harness/internal/sessionlog"
	"github.com/Fr3nn3r/ada-harness/internal/types"
	"github.com/Fr3nn3r/ada-harness/internal/vcsadapter"
	"github.com/Fr3nn3r/ada-harness/internal/verify"
)

// ExitCode is the scheduler process's exit status.
type ExitCode int

const (
	ExitClean      ExitCode = 0
	ExitError      ExitCode = 1
	ExitPreflight  ExitCode = 2
	ExitInterrupt  ExitCode = 130
)

// PromptRenderer builds the prompt text handed to the agent for one
// feature, typically injecting acceptance criteria, recent progress-log
// tail, and handoff notes from any prior attempt.
type PromptRenderer func(f *types.Feature, handoffNotes string) string

// Deps bundles every collaborator the Scheduler drives. All fields are
// required except Approver-related wiring inside VerifyConfig.
type Deps struct {
	Backlog     *backlog.Store
	Checkpoint  *checkpoint.Store
	Progress    *progresslog.Log
	SessionLog  *sessionlog.Logger
	VCS         vcsadapter.Adapter
	Runtime     *agentrun.Runtime
	VerifyCfg   verify.Config
	Retry       retry.Config
	Bus         *eventbus.Bus
	RenderPrompt PromptRenderer
	Model       string
	ProjectRoot string
	GracePeriod time.Duration
}

// Scheduler drives Deps through the harness loop. Its mutable fields are
// read by the Telemetry API's StatusProvider implementation, so they are
// guarded by a mutex rather than left goroutine-local.
type Scheduler struct {
	deps Deps

	mu                  sync.RWMutex
	running             bool
	currentFeatureID    string
	currentSessionID    string
	contextUsagePercent float64

	shutdown chan struct{}
	once     sync.Once
}

// New returns a Scheduler ready to Run.
func New(deps Deps) *Scheduler {
	if deps.GracePeriod == 0 {
		deps.GracePeriod = 2 * time.Minute
	}
	return &Scheduler{deps: deps, shutdown: make(chan struct{})}
}

// RequestShutdown signals the loop to stop after the in-flight session
// reaches a terminal state, used by both OS-signal handling and an API
// shutdown command.
func (s *Scheduler) RequestShutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

func (s *Scheduler) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// Running implements telemetry.StatusProvider.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// CurrentFeatureID implements telemetry.StatusProvider.
func (s *Scheduler) CurrentFeatureID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentFeatureID
}

// CurrentSessionID implements telemetry.StatusProvider.
func (s *Scheduler) CurrentSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSessionID
}

// ContextUsagePercent implements telemetry.StatusProvider.
func (s *Scheduler) ContextUsagePercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contextUsagePercent
}

func (s *Scheduler) setCurrent(featureID, sessionID string) {
	s.mu.Lock()
	s.currentFeatureID = featureID
	s.currentSessionID = sessionID
	s.mu.Unlock()
}

// Preflight runs the health checks a run needs before it starts: VCS is
// clean or explicitly accepted dirty, the backlog loads and validates,
// and sufficient disk is free. Returns a descriptive error on any
// failure; the caller exits with ExitPreflight.
func (s *Scheduler) Preflight(ctx context.Context, allowDirty bool) error {
	if _, err := s.deps.Backlog.Load(); err != nil {
		return fmt.Errorf("scheduler: preflight: backlog: %w", err)
	}
	status, err := s.deps.VCS.Status(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: preflight: vcs status: %w", err)
	}
	if !status.Clean && !allowDirty {
		return fmt.Errorf("scheduler: preflight: working tree is dirty and dirty starts are not allowed")
	}
	if free, err := freeDiskBytes(s.deps.ProjectRoot); err == nil && free < minFreeDiskBytes {
		return fmt.Errorf("scheduler: preflight: insufficient disk free: %d bytes", free)
	}
	return nil
}

// MinFreeDiskBytes is the preflight disk-space floor, exported so
// standalone health checks (cmd/ada-harness doctor) can report against
// the same threshold the scheduler enforces.
const MinFreeDiskBytes = 500 * 1024 * 1024 // 500MB

const minFreeDiskBytes = MinFreeDiskBytes

// freeDiskBytes reports free space on the filesystem containing path.
func freeDiskBytes(path string) (uint64, error) {
	return diskFree(path)
}

// FreeDiskBytes is the exported form of freeDiskBytes for standalone
// callers outside the scheduler.
func FreeDiskBytes(path string) (uint64, error) {
	return diskFree(path)
}

// Run executes the harness loop until the backlog drains, a feature
// blocks the whole run (dependency deadlock), or shutdown is requested.
func (s *Scheduler) Run(ctx context.Context) ExitCode {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if cp, err := s.deps.Checkpoint.Load(); err == nil && cp != nil {
		s.deps.Bus.Publish(eventbus.StatusUpdated, fmt.Sprintf("resuming from checkpoint for feature %s (attempt %d)", cp.FeatureID, cp.Attempt))
	}

	for {
		if s.shuttingDown() {
			s.gracefulShutdown("interrupted by user")
			return ExitInterrupt
		}
		if ctx.Err() != nil {
			s.gracefulShutdown("context canceled")
			return ExitInterrupt
		}

		f := s.deps.Backlog.SelectNext()
		if f == nil {
			break
		}

		attempt := 0
		handoffNotes := ""
		if cp, err := s.deps.Checkpoint.Load(); err == nil && cp != nil && cp.FeatureID == f.ID {
			attempt = cp.Attempt
			handoffNotes = cp.HandoffNotes
		}

		code, done := s.runFeature(ctx, f, attempt, handoffNotes)
		if done {
			return code
		}

		if err := s.deps.Backlog.Save(); err != nil {
			s.deps.Bus.Publish(eventbus.AlertCreated, fmt.Sprintf("backlog save failed: %v", err))
			return ExitError
		}
	}

	if s.deps.Backlog.HasUnrunnableRemainder() {
		s.gracefulShutdown("backlog deadlocked: remaining features have unmet dependencies")
		return ExitError
	}

	_ = s.deps.Checkpoint.Clear()
	s.gracefulShutdown("backlog drained")
	return ExitClean
}

// runFeature runs one feature through as many retry attempts as its
// policy allows, returning (exitCode, terminal) where terminal indicates
// the whole scheduler loop must stop now (interrupt or fatal error).
func (s *Scheduler) runFeature(ctx context.Context, f *types.Feature, attempt int, handoffNotes string) (ExitCode, bool) {
	if f.Status == types.StatusPending {
		if err := s.deps.Backlog.UpdateFeature(f.ID, func(ff *types.Feature) {
			ff.Status = types.StatusInProgress
			now := time.Now()
			ff.StartedAt = &now
		}); err != nil {
			return ExitError, true
		}
	}

	for attempt <= s.deps.Retry.MaxRetries {
		if s.shuttingDown() {
			s.gracefulShutdown("interrupted by user")
			return ExitInterrupt, true
		}

		lastGood, err := s.deps.VCS.HeadCommit(ctx)
		if err != nil {
			s.deps.Bus.Publish(eventbus.AlertCreated, fmt.Sprintf("vcs in unexpected state: %v", err))
			return ExitError, true
		}
		_ = s.deps.Checkpoint.Save(types.Checkpoint{FeatureID: f.ID, Attempt: attempt, LastGoodCommit: lastGood, HandoffNotes: handoffNotes})

		model := f.ModelOverride
		if model == "" {
			model = s.deps.Model
		}

		sess, err := s.deps.SessionLog.StartSession(types.AgentKindCoding, f.ID)
		if err != nil {
			return ExitError, true
		}
		s.setCurrent(f.ID, sess.ID())
		s.deps.Bus.Publish(eventbus.SessionStarted, sess.ID())

		prompt := s.deps.RenderPrompt(f, handoffNotes)
		startedAt := time.Now()

		onEvent := func(fr agentrun.Frame) {
			_ = sess.Append(sessionEntryFromFrame(fr))
			s.mu.Lock()
			s.contextUsagePercent = s.deps.Runtime.ContextUsagePercent()
			s.mu.Unlock()
			s.deps.Bus.Publish(eventbus.ProgressUpdate, fr)
		}

		result := s.deps.Runtime.Run(ctx, agentrun.Request{
			Feature: f, Prompt: prompt, Model: model, ProjectRoot: s.deps.ProjectRoot,
		}, onEvent)

		rec := types.SessionRecord{
			ID: sess.ID(), FeatureID: f.ID, AgentKind: types.AgentKindCoding, Model: model,
			StartedAt: startedAt, EndedAt: time.Now(), Outcome: result.Outcome,
			Turns: result.Turns, Usage: result.Usage,
		}

		switch result.Outcome {
		case types.OutcomeSuccess:
			report := s.runVerification(ctx, f)
			if report.Passed {
				hash, err := s.deps.VCS.CommitAll(ctx, fmt.Sprintf("feat(%s): %s", f.ID, f.Name))
				if err != nil {
					rec.Error = &types.ClassifiedError{Category: "tooling", Retryable: false, HumanMessage: err.Error()}
					_ = sess.Finish(rec)
					s.deps.Bus.Publish(eventbus.SessionEnded, rec)
					s.deps.Bus.Publish(eventbus.AlertCreated, fmt.Sprintf("commit failed for %s: %v", f.ID, err))
					return ExitError, true
				}
				rec.CommitHash = hash
				_ = sess.Finish(rec)
				s.deps.Bus.Publish(eventbus.SessionEnded, rec)

				_ = s.deps.Backlog.UpdateFeature(f.ID, func(ff *types.Feature) {
					ff.Status = types.StatusCompleted
					ff.SessionsSpent++
					now := time.Now()
					ff.CompletedAt = &now
				})
				s.deps.Bus.Publish(eventbus.FeatureUpdated, f.ID)
				s.appendProgress(types.ProgressSessionEnd, sess.ID(), f.ID, "feature completed")
				return 0, false

			}
			rec.Notes = fmt.Sprintf("verification gate %s failed", report.FailedGate)
			_ = sess.Finish(rec)
			s.deps.Bus.Publish(eventbus.SessionEnded, rec)
			_ = s.deps.Backlog.UpdateFeature(f.ID, func(ff *types.Feature) {
				ff.SessionsSpent++
				ff.ImplementationNotes = append(ff.ImplementationNotes, rec.Notes)
			})
			attempt++
			continue

		case types.OutcomeHandoff:
			hash, _ := s.deps.VCS.CommitAll(ctx, fmt.Sprintf("handoff(%s): session %s", f.ID, sess.ID()))
			rec.CommitHash = hash
			rec.Notes = result.HandoffNotes
			_ = sess.Finish(rec)
			s.deps.Bus.Publish(eventbus.SessionEnded, rec)
			_ = s.deps.Backlog.UpdateFeature(f.ID, func(ff *types.Feature) {
				ff.SessionsSpent++
				if ff.Status == types.StatusPending {
					ff.Status = types.StatusInProgress
					now := time.Now()
					ff.StartedAt = &now
				}
			})
			_ = s.deps.Checkpoint.Save(types.Checkpoint{FeatureID: f.ID, Attempt: attempt, LastGoodCommit: hash, HandoffNotes: result.HandoffNotes})
			s.appendProgress(types.ProgressHandoff, sess.ID(), f.ID, result.HandoffNotes)
			return 0, false

		case types.OutcomeTimeout, types.OutcomeCrashed, types.OutcomeFailure:
			cat := s.classifyResult(result)
			rec.Error = &types.ClassifiedError{Category: string(cat.Category), Retryable: cat.Retryable, HumanMessage: cat.HumanMessage, Raw: errString(result.Err)}
			_ = sess.Finish(rec)
			s.deps.Bus.Publish(eventbus.SessionEnded, rec)

			if !cat.Retryable || attempt >= cat.Category.MaxRetries(s.deps.Retry.MaxRetries) {
				_ = s.deps.Backlog.UpdateFeature(f.ID, func(ff *types.Feature) {
					ff.Status = types.StatusBlocked
					ff.SessionsSpent++
					ff.ImplementationNotes = append(ff.ImplementationNotes, cat.HumanMessage)
				})
				s.deps.Bus.Publish(eventbus.AlertCreated, fmt.Sprintf("feature %s blocked: %s", f.ID, cat.HumanMessage))
				return 0, false
			}
			_ = s.deps.Backlog.UpdateFeature(f.ID, func(ff *types.Feature) { ff.SessionsSpent++ })
			if err := s.deps.Retry.Sleep(ctx, attempt, cat.Category); err != nil {
				s.gracefulShutdown("interrupted during retry backoff")
				return ExitInterrupt, true
			}
			attempt++
			continue

		case types.OutcomeInterrupted:
			_ = sess.Finish(rec)
			s.deps.Bus.Publish(eventbus.SessionEnded, rec)
			s.gracefulShutdown("interrupted by user")
			return ExitInterrupt, true
		}
	}

	_ = s.deps.Backlog.UpdateFeature(f.ID, func(ff *types.Feature) { ff.Status = types.StatusBlocked })
	return 0, false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Scheduler) classifyResult(result agentrun.Result) classify.Result {
	switch result.Outcome {
	case types.OutcomeTimeout:
		if result.StallDetected {
			return classify.FromStall()
		}
		return classify.FromHardTimeout()
	case types.OutcomeCrashed:
		return classify.FromSubprocessExit(0)
	default:
		return classify.FromError(result.Err)
	}
}

func (s *Scheduler) runVerification(ctx context.Context, f *types.Feature) verify.Report {
	runner := verify.New(s.deps.VerifyCfg)
	return runner.Run(ctx, verify.FeatureContext{
		ProjectRoot: s.deps.ProjectRoot, FeatureID: f.ID, FeatureName: f.Name, Category: string(f.Category),
	})
}

func (s *Scheduler) appendProgress(kind types.ProgressEntryKind, sessionID, featureID, body string) {
	_ = s.deps.Progress.Append(types.ProgressEntry{
		Kind: kind, Timestamp: time.Now(), SessionID: sessionID, FeatureID: featureID, Body: body,
	})
}

// gracefulShutdown persists final state and writes a closing progress
// entry; it never panics or exits the process itself, leaving that to
// the caller so tests can observe the returned exit code.
func (s *Scheduler) gracefulShutdown(reason string) {
	_ = s.deps.Backlog.Save()
	s.appendProgress(types.ProgressSessionEnd, "", "", "scheduler shutdown: "+reason)
	s.deps.Bus.Publish(eventbus.StatusUpdated, reason)
}

func sessionEntryFromFrame(fr agentrun.Frame) sessionlog.Entry {
	var kind sessionlog.EntryKind
	switch fr.Kind {
	case agentrun.FrameMessage:
		kind = sessionlog.EntryAssistant
	case agentrun.FrameToolCall:
		kind = sessionlog.EntryToolCall
	case agentrun.FrameToolResult:
		kind = sessionlog.EntryToolResult
	case agentrun.FrameUsageUpdate:
		kind = sessionlog.EntryUsageUpdate
	case agentrun.FrameError:
		kind = sessionlog.EntryError
	default:
		kind = sessionlog.EntryAssistant
	}
	return sessionlog.Entry{Kind: kind, Timestamp: fr.Timestamp, Text: fr.Text, ToolName: fr.ToolName, Usage: fr.Usage}
}

// diskFree is swapped in tests; the real implementation lives in
// diskfree_unix.go / diskfree_other.go to keep the syscall behind a
// build-tag boundary.
var diskFree = platformDiskFree
