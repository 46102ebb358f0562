package classify

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryRetryable(t *testing.T) {
	assert.True(t, Transient.Retryable())
	assert.True(t, RateLimit.Retryable())
	assert.True(t, Timeout.Retryable())
	assert.True(t, Tooling.Retryable())
	assert.True(t, Unknown.Retryable())
	assert.False(t, Billing.Retryable())
	assert.False(t, Auth.Retryable())
}

func TestCategoryMaxRetriesCapsToolingAndUnknownAtOne(t *testing.T) {
	assert.Equal(t, 1, Tooling.MaxRetries(3))
	assert.Equal(t, 1, Unknown.MaxRetries(3))
	assert.Equal(t, 3, Transient.MaxRetries(3))
	assert.Equal(t, 3, RateLimit.MaxRetries(3))
	// A configured ceiling below one is never raised.
	assert.Equal(t, 0, Tooling.MaxRetries(0))
}

func TestFromErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"deadline exceeded", context.DeadlineExceeded, Timeout},
		{"exec not found", exec.ErrNotFound, Tooling},
		{"billing", errors.New("payment required: insufficient credit"), Billing},
		{"auth", errors.New("401 unauthorized"), Auth},
		{"rate limit", errors.New("429 too many requests"), RateLimit},
		{"missing tool", errors.New("exec: \"foo\": executable file not found in $PATH"), Tooling},
		{"transient", errors.New("502 bad gateway"), Transient},
		{"unclassified client error", errors.New("404 not found"), Unknown},
		{"fallback unknown", errors.New("something weird happened"), Unknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := FromError(c.err)
			assert.Equal(t, c.want, got.Category)
		})
	}
}

func TestFromErrorBillingAndAuthAreNotRetryable(t *testing.T) {
	assert.False(t, FromError(errors.New("insufficient_quota")).Retryable)
	assert.False(t, FromError(errors.New("invalid api key")).Retryable)
}

func TestFromStallAndHardTimeoutAreTimeoutCategory(t *testing.T) {
	assert.Equal(t, Timeout, FromStall().Category)
	assert.Equal(t, Timeout, FromHardTimeout().Category)
	assert.True(t, FromStall().Retryable)
}

func TestFromSubprocessExitIsRetryableAgentCrash(t *testing.T) {
	r := FromSubprocessExit(1)
	assert.Equal(t, AgentCrash, r.Category)
	assert.True(t, r.Retryable)
}
