package agentrun

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

// StreamingTransport drives the agent via the Anthropic Messages API's
// streaming endpoint instead of a subprocess, implementing the same
// AgentTransport interface the subprocess backend does.
type StreamingTransport struct {
	client anthropic.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewStreamingTransport builds a transport backed by the Anthropic API.
// An empty apiKey passes no option.WithAPIKey, so the client reads
// ANTHROPIC_API_KEY from the environment.
func NewStreamingTransport(apiKey string) *StreamingTransport {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &StreamingTransport{client: anthropic.NewClient(opts...)}
}

// Start opens a streaming Messages request. Message start and delta
// events are forwarded as usage Frames as they arrive; text deltas are
// accumulated and sent as one message Frame when the stream ends,
// followed by a completion Frame if a message stop event was seen.
func (t *StreamingTransport) Start(ctx context.Context, req Request, sink Sink) (<-chan Frame, <-chan error) {
	frames := make(chan Frame, 256)
	errCh := make(chan error, 1)

	sessionCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	model := req.Model
	if model == "" {
		model = "claude-opus-4-5-20251101"
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	stream := t.client.Messages.NewStreaming(sessionCtx, params)

	go func() {
		defer close(frames)
		defer close(errCh)

		var textBuf strings.Builder
		var finalUsage types.TokenUsage
		sawStop := false

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
					textBuf.WriteString(delta.Text)
				}
			case anthropic.MessageDeltaEvent:
				finalUsage.OutputTokens += int(variant.Usage.OutputTokens)
				frames <- Frame{Kind: FrameUsageUpdate, Timestamp: time.Now(), Usage: finalUsage}
			case anthropic.MessageStartEvent:
				finalUsage.InputTokens = int(variant.Message.Usage.InputTokens)
				finalUsage.CacheReadTokens = int(variant.Message.Usage.CacheReadInputTokens)
				finalUsage.CacheWriteTokens = int(variant.Message.Usage.CacheCreationInputTokens)
				frames <- Frame{Kind: FrameUsageUpdate, Timestamp: time.Now(), Usage: finalUsage}
			case anthropic.MessageStopEvent:
				sawStop = true
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("agentrun: streaming transport: %w", err)
			return
		}

		text := textBuf.String()
		if text != "" {
			frames <- Frame{Kind: FrameMessage, Text: text, Timestamp: time.Now()}
		}
		if sawStop {
			frames <- Frame{Kind: FrameCompletionSignal, Text: text, Timestamp: time.Now()}
		}
		errCh <- nil
	}()

	return frames, errCh
}

// Stop cancels the in-flight streaming request.
func (t *StreamingTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

