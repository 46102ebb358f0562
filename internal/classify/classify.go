// Package classify implements the Error Classifier: mapping a raw failure
// payload onto the fixed taxonomy that drives retry and alerting policy.
//
// Works by string/status-code sniffing rather than typed error values,
// since the underlying transports surface failures as opaque text.
package classify

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Category is one of the fixed error taxonomy members.
type Category string

const (
	Transient  Category = "transient"
	RateLimit  Category = "rate_limit"
	AgentCrash Category = "agent_crash"
	Timeout    Category = "timeout"
	Billing    Category = "billing"
	Auth       Category = "auth"
	Tooling    Category = "tooling"
	Unknown    Category = "unknown"
)

// Retryable reports whether the Retry Policy should ever retry this
// category at all.
func (c Category) Retryable() bool {
	switch c {
	case Billing, Auth:
		return false
	default:
		return true
	}
}

// MaxRetries caps the attempt count the Scheduler honors for this
// category, given the harness-wide configured ceiling. Tooling and
// unknown failures retry once and then block, regardless of the
// configured budget: a missing binary or an unclassified error is not
// going to resolve itself by burning through the full retry budget.
func (c Category) MaxRetries(configured int) int {
	switch c {
	case Tooling, Unknown:
		if configured > 1 {
			return 1
		}
		return configured
	default:
		return configured
	}
}

// Result is the classifier's verdict on one failure.
type Result struct {
	Category     Category
	Retryable    bool
	HumanMessage string
}

// FromSubprocessExit classifies a nonzero subprocess exit with no
// completion signal observed in the transcript.
func FromSubprocessExit(exitCode int) Result {
	return Result{
		Category:     AgentCrash,
		Retryable:    true,
		HumanMessage: "agent subprocess exited without a completion signal",
	}
}

// FromStall classifies the stall-detector firing (no transcript event
// within the configured silence window).
func FromStall() Result {
	return Result{Category: Timeout, Retryable: true, HumanMessage: "session stalled: no transcript activity within the silence window"}
}

// FromHardTimeout classifies the absolute wall-clock cap firing.
func FromHardTimeout() Result {
	return Result{Category: Timeout, Retryable: true, HumanMessage: "session exceeded its hard timeout"}
}

// FromError classifies an arbitrary Go error (network failure, API error,
// missing tool, etc.) by inspecting err and its text.
func FromError(err error) Result {
	if err == nil {
		return Result{Category: Unknown, Retryable: true, HumanMessage: "no error"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Category: Timeout, Retryable: true, HumanMessage: "operation deadline exceeded"}
	}

	if errors.Is(err, exec.ErrNotFound) {
		return Result{Category: Tooling, Retryable: true, HumanMessage: "required tool not found on PATH"}
	}

	text := strings.ToLower(err.Error())

	if containsAny(text, "insufficient credit", "insufficient_quota", "payment required", "billing") {
		return Result{Category: Billing, Retryable: false, HumanMessage: "billing/credit error"}
	}
	if containsAny(text, "invalid api key", "unauthorized", "401", "403", "invalid credential", "authentication") {
		return Result{Category: Auth, Retryable: false, HumanMessage: "authentication/authorization error"}
	}
	if containsAny(text, "429", "rate limit", "rate_limit", "too many requests") {
		return Result{Category: RateLimit, Retryable: true, HumanMessage: "rate limited by upstream"}
	}
	if containsAny(text, "executable file not found", "command not found", "no such file or directory") {
		return Result{Category: Tooling, Retryable: true, HumanMessage: "required external tool missing"}
	}
	if containsAny(text, "500", "502", "503", "504", "internal server error", "bad gateway",
		"service unavailable", "gateway timeout", "connection refused", "connection reset",
		"timeout", "temporary failure", "network", "dns") {
		return Result{Category: Transient, Retryable: true, HumanMessage: "transient network/server error"}
	}
	if containsAny(text, "400", "404", "bad request", "not found") {
		return Result{Category: Unknown, Retryable: true, HumanMessage: "client-side error, not auto-classified"}
	}

	return Result{Category: Unknown, Retryable: true, HumanMessage: err.Error()}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
