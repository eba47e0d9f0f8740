package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"scriptoria/internal/config"
)

// ErrTimeout is returned when a model does not answer within the allotted time.
var ErrTimeout = errors.New("llm call timed out")

// NewModel builds a chat model client for the configured provider.
func NewModel(ctx context.Context, llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Creating LLM client")
	switch llmConfig.Provider {
	case "openai":
		return openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.APIKey(), "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case "googleai":
		return googleai.New(ctx,
			googleai.WithAPIKey(llmConfig.APIKey()),
			googleai.WithDefaultModel(llmConfig.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", llmConfig.Provider)
	}
}

// GenerateContent sends a single prompt and waits at most timeout for the
// reply. The call runs in its own goroutine so a client that ignores context
// cancellation cannot hold the caller past the deadline.
func GenerateContent(ctx context.Context, llm llms.Model, prompt string, timeout time.Duration, options ...llms.CallOption) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt, options...)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return r.text, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return "", ctx.Err()
	}
}
