// Package agentrun implements the Session Runtime: spawning and driving
// one coding or initializer session, streaming its transcript, detecting
// terminal states, and accumulating token usage.
//
// Context-usage and stall monitoring sit behind the AgentTransport
// interface, so a subprocess-CLI backend and a streaming-API backend are
// swappable without touching the Scheduler.
package agentrun

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

// FrameKind is a closed enumeration of transcript frame shapes the
// transport forwards to the Runtime.
type FrameKind string

const (
	FrameMessage          FrameKind = "message"
	FrameToolCall         FrameKind = "tool_call"
	FrameToolResult       FrameKind = "tool_result"
	FrameUsageUpdate      FrameKind = "usage_update"
	FrameCompletionSignal FrameKind = "completion_signal"
	FrameError            FrameKind = "error"
)

// Frame is one transcript event forwarded by a transport.
type Frame struct {
	Kind      FrameKind
	Text      string
	ToolName  string
	Usage     types.TokenUsage
	Err       error
	Timestamp time.Time
}

// Sink receives transcript events as the session progresses; the
// Session Logger and Event Bus are both Sinks.
type Sink func(Frame)

// AgentTransport is the pluggable mechanism driving the agent: a
// subprocess CLI or a streaming API. Both satisfy this one interface.
type AgentTransport interface {
	// Start launches the session, forwarding transcript frames to sink
	// until the context is done or the transport reaches a terminal
	// condition on its own (process exit, stream close).
	Start(ctx context.Context, req Request, sink Sink) (<-chan Frame, <-chan error)
	// Stop terminates an in-flight session, used on hard timeout or
	// cancellation.
	Stop() error
}

// Request is everything a transport needs to start one session.
type Request struct {
	Feature        *types.Feature
	Prompt         string
	Model          string
	ProjectRoot    string
	ContextWindow  int // tokens; 0 uses a 200000-token default
}

// Outcome mirrors types.Outcome but kept local to avoid a layering
// dependency from types back into agentrun.
type Outcome = types.Outcome

// Result is what Run returns once the session reaches a terminal state.
type Result struct {
	Outcome       Outcome
	Turns         int
	Usage         types.TokenUsage
	Err           error
	HandoffNotes  string
	StallDetected bool
}

const (
	defaultContextWindow   = 200000
	defaultSilenceWindow   = 5 * time.Minute
	defaultHardTimeout     = 30 * time.Minute
	defaultHandoffPercent  = 70.0
)

// Config tunes the Runtime's thresholds.
type Config struct {
	ContextThresholdPercent float64
	SilenceWindow           time.Duration
	HardTimeout             time.Duration
}

// DefaultConfig returns the runtime's baseline timeout and threshold
// values.
func DefaultConfig() Config {
	return Config{
		ContextThresholdPercent: defaultHandoffPercent,
		SilenceWindow:           defaultSilenceWindow,
		HardTimeout:             defaultHardTimeout,
	}
}

// Runtime drives one AgentTransport through one session. Its counters are
// plain struct fields, not goroutine-local state, so the Telemetry API can
// inspect an in-flight session.
type Runtime struct {
	cfg       Config
	transport AgentTransport

	mu                  sync.RWMutex
	turns               int
	usage               types.TokenUsage
	contextUsagePercent float64
	lastFrameAt         time.Time
	contextWindow       int
	transcript          strings.Builder
	lastMessage         string
}

// New returns a Runtime driving transport with cfg.
func New(transport AgentTransport, cfg Config) *Runtime {
	if cfg.ContextThresholdPercent == 0 {
		cfg.ContextThresholdPercent = defaultHandoffPercent
	}
	if cfg.SilenceWindow == 0 {
		cfg.SilenceWindow = defaultSilenceWindow
	}
	if cfg.HardTimeout == 0 {
		cfg.HardTimeout = defaultHardTimeout
	}
	return &Runtime{cfg: cfg, transport: transport}
}

// Turns returns the current turn counter (incremented per assistant message).
func (r *Runtime) Turns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.turns
}

// Usage returns the accumulated token usage so far.
func (r *Runtime) Usage() types.TokenUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usage
}

// ContextUsagePercent returns the last computed context usage estimate.
func (r *Runtime) ContextUsagePercent() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contextUsagePercent
}

// Run drives one session to a terminal condition, forwarding every
// transcript frame to onEvent as it arrives.
func (r *Runtime) Run(ctx context.Context, req Request, onEvent Sink) Result {
	if req.ContextWindow == 0 {
		req.ContextWindow = defaultContextWindow
	}

	sessionCtx, cancel := context.WithTimeout(ctx, r.cfg.HardTimeout)
	defer cancel()

	frames, errCh := r.transport.Start(sessionCtx, req, onEvent)

	r.mu.Lock()
	r.turns = 0
	r.usage = types.TokenUsage{}
	r.contextUsagePercent = 0
	r.lastFrameAt = time.Now()
	r.contextWindow = req.ContextWindow
	r.mu.Unlock()

	silence := time.NewTimer(r.cfg.SilenceWindow)
	defer silence.Stop()

	completionSeen := false

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			silence.Reset(r.cfg.SilenceWindow)
			r.absorb(frame, onEvent)

			// Harness-inferred completion: the transport's own signal is
			// necessary but not sufficient. Never trust a bare "I'm done"
			// assertion — require every acceptance-criterion marker the
			// prompt enumerated to also appear in the transcript text.
			if frame.Kind == FrameCompletionSignal {
				r.mu.RLock()
				transcript := r.transcript.String()
				r.mu.RUnlock()
				if acceptanceCriteriaAddressed(transcript, req.Feature) {
					completionSeen = true
				}
			}

			r.mu.RLock()
			pct := r.contextUsagePercent
			r.mu.RUnlock()
			if pct >= r.cfg.ContextThresholdPercent && !completionSeen {
				_ = r.transport.Stop()
				return Result{Outcome: types.OutcomeHandoff, Turns: r.Turns(), Usage: r.Usage(), HandoffNotes: r.handoffNotes()}
			}

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				// Transport signaled clean exit via errCh.
				if completionSeen {
					return Result{Outcome: types.OutcomeSuccess, Turns: r.Turns(), Usage: r.Usage()}
				}
				return Result{Outcome: types.OutcomeCrashed, Turns: r.Turns(), Usage: r.Usage(),
					Err: fmt.Errorf("agent transport exited without a completion signal")}
			}
			return Result{Outcome: types.OutcomeFailure, Turns: r.Turns(), Usage: r.Usage(), Err: err}

		case <-silence.C:
			_ = r.transport.Stop()
			return Result{Outcome: types.OutcomeTimeout, Turns: r.Turns(), Usage: r.Usage(), StallDetected: true,
				Err: fmt.Errorf("stall: no transcript activity within %s", r.cfg.SilenceWindow)}

		case <-sessionCtx.Done():
			_ = r.transport.Stop()
			if ctx.Err() != nil {
				return Result{Outcome: types.OutcomeInterrupted, Turns: r.Turns(), Usage: r.Usage(), Err: ctx.Err()}
			}
			return Result{Outcome: types.OutcomeTimeout, Turns: r.Turns(), Usage: r.Usage(),
				Err: fmt.Errorf("hard timeout after %s", r.cfg.HardTimeout)}
		}

		if frames == nil && errCh == nil {
			if completionSeen {
				return Result{Outcome: types.OutcomeSuccess, Turns: r.Turns(), Usage: r.Usage()}
			}
			return Result{Outcome: types.OutcomeCrashed, Turns: r.Turns(), Usage: r.Usage(),
				Err: fmt.Errorf("agent transport closed without a completion signal")}
		}
	}
}

// absorb updates the Runtime's counters from frame and forwards it.
func (r *Runtime) absorb(frame Frame, onEvent Sink) {
	r.mu.Lock()
	r.lastFrameAt = frame.Timestamp
	switch frame.Kind {
	case FrameMessage:
		r.turns++
		r.transcript.WriteString(frame.Text)
		r.transcript.WriteString("\n")
		if frame.Text != "" {
			r.lastMessage = frame.Text
		}
	case FrameCompletionSignal:
		r.transcript.WriteString(frame.Text)
	case FrameUsageUpdate:
		r.usage.Add(frame.Usage)
		window := r.contextWindow
		if window == 0 {
			window = defaultContextWindow
		}
		total := r.usage.InputTokens + r.usage.OutputTokens
		r.contextUsagePercent = float64(total) / float64(window) * 100.0
	}
	r.mu.Unlock()

	if onEvent != nil {
		onEvent(frame)
	}
}

// handoffNotes returns the last assistant message as the note the next
// session's prompt should see, falling back to a generic marker if the
// session never produced a message before hitting the context threshold.
func (r *Runtime) handoffNotes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastMessage == "" {
		return "session ended at context threshold"
	}
	return r.lastMessage
}

// acceptanceCriteriaAddressed reports whether transcript text references
// every acceptance-criterion marker (AC-1, AC-2, ...) the rendered prompt
// enumerated for f. A feature with no acceptance criteria has nothing to
// check and is considered addressed.
func acceptanceCriteriaAddressed(text string, f *types.Feature) bool {
	if f == nil {
		return true
	}
	for i := range f.AcceptanceCriteria {
		marker := fmt.Sprintf("AC-%d", i+1)
		if !strings.Contains(text, marker) {
			return false
		}
	}
	return true
}
