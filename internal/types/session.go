package types

import "time"

// AgentKind distinguishes the one-shot initializer session from an
// ordinary coding session against a backlog feature.
type AgentKind string

const (
	AgentKindInitializer AgentKind = "initializer"
	AgentKindCoding       AgentKind = "coding"
)

// Outcome is the terminal state of a completed Session Runtime run.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeHandoff     Outcome = "handoff"
	OutcomeFailure     Outcome = "failure"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeCrashed     Outcome = "crashed"
)

// TokenUsage accumulates token counts across a session.
type TokenUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// Add accumulates another usage frame into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// ClassifiedError is the output of the Error Classifier attached to a
// SessionRecord whose outcome was failure, timeout, or crashed.
type ClassifiedError struct {
	Category     string `json:"category"`
	Retryable    bool   `json:"retryable"`
	HumanMessage string `json:"human_message"`
	Raw          string `json:"raw,omitempty"`
}

// SessionRecord is one attempt at one feature (or the initializer).
type SessionRecord struct {
	ID          string           `json:"id"`
	FeatureID   string           `json:"feature_id,omitempty"`
	AgentKind   AgentKind        `json:"agent_kind"`
	Model       string           `json:"model"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     time.Time        `json:"ended_at,omitempty"`
	Outcome     Outcome          `json:"outcome,omitempty"`
	Turns       int              `json:"turns"`
	Usage       TokenUsage       `json:"usage"`
	CostUSD     float64          `json:"cost_usd"`
	FilesTouched []string        `json:"files_touched,omitempty"`
	CommitHash  string           `json:"commit_hash,omitempty"`
	Error       *ClassifiedError `json:"error,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// Checkpoint is the scheduler's resumable position across restarts.
type Checkpoint struct {
	FeatureID      string    `json:"feature_id"`
	Attempt        int       `json:"attempt"`
	LastGoodCommit string    `json:"last_good_commit,omitempty"`
	HandoffNotes   string    `json:"handoff_notes,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ProgressEntryKind distinguishes the three progress-log entry shapes.
type ProgressEntryKind string

const (
	ProgressSessionStart ProgressEntryKind = "session_start"
	ProgressSessionEnd   ProgressEntryKind = "session_end"
	ProgressHandoff      ProgressEntryKind = "handoff"
)

// ProgressEntry is a timestamped block appended to the progress log.
type ProgressEntry struct {
	Kind      ProgressEntryKind
	Timestamp time.Time
	SessionID string
	FeatureID string
	Body      string
}

// AlertSeverity is the severity tag on an Alert.
type AlertSeverity string

const (
	AlertInfo    AlertSeverity = "info"
	AlertWarning AlertSeverity = "warning"
	AlertError   AlertSeverity = "error"
	AlertSuccess AlertSeverity = "success"
)

// Alert is a durable, dedupable, acknowledgeable notification derived
// from an Event Bus event.
type Alert struct {
	ID         string        `json:"id"`
	Severity   AlertSeverity `json:"severity"`
	Title      string        `json:"title"`
	Message    string        `json:"message"`
	Type       string        `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	FeatureID  string        `json:"feature_id,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Read       bool          `json:"read"`
	Dismissed  bool          `json:"dismissed"`
	DedupKey   string        `json:"dedup_key"`
}
