// Package agent builds language-model clients for the native backend:
// provider resolution from the model name, credential lookup, and the
// middleware chain around the raw SDK client.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/internal/llmimpl/anthropic"
	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/internal/llmimpl/google"
	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/internal/llmimpl/ollama"
	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/internal/llmimpl/openai"
	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/llm"
	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
	"github.com/suryarastogi/helping-hands-sub000/pkg/metrics"
)

const defaultOllamaHost = "http://localhost:11434"

// NewLLMClient builds the client for cfg.Model with retry and metrics
// wrapped around the provider SDK. Credentials come from the secret store,
// falling back to the environment.
func NewLLMClient(cfg *config.Config, recorder metrics.Recorder) (llm.LLMClient, error) {
	llmCfg := llm.LLMConfig{
		ModelName:   cfg.Model,
		MaxTokens:   llm.DefaultMaxTokens,
		Temperature: llm.TemperatureDefault,
	}
	if cfg.Context.MaxReplyTokens > 0 {
		llmCfg.MaxTokens = cfg.Context.MaxReplyTokens
	}
	if err := llmCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model configuration: %w", err)
	}

	provider, err := config.GetModelProvider(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", cfg.Model, err)
	}

	raw, err := newRawClient(provider, cfg.Model)
	if err != nil {
		return nil, err
	}

	if recorder == nil {
		recorder = metrics.Nop()
	}

	return llm.Chain(raw,
		withMetrics(recorder, provider),
		llm.WithRetry(),
	), nil
}

func newRawClient(provider, model string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		key, err := config.GetSecret("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, fmt.Errorf("anthropic credentials unavailable: %w", err)
		}
		return anthropic.NewClaudeClientWithModel(key, model), nil

	case config.ProviderOpenAI:
		key, err := config.GetSecret("OPENAI_API_KEY")
		if err != nil {
			return nil, fmt.Errorf("openai credentials unavailable: %w", err)
		}
		return openai.NewClientWithModel(key, model), nil

	case config.ProviderGoogle:
		key, err := config.GetSecret("GEMINI_API_KEY")
		if err != nil {
			return nil, fmt.Errorf("gemini credentials unavailable: %w", err)
		}
		return google.NewGeminiClientWithModel(key, model), nil

	case config.ProviderOllama:
		host, err := config.GetSecret("OLLAMA_HOST")
		if err != nil || host == "" {
			host = defaultOllamaHost
		}
		return ollama.NewClientWithModel(host, model), nil

	default:
		return nil, logx.Errorf("unsupported provider: %s", provider)
	}
}

// metricsClient records request durations and outcomes per provider/model.
type metricsClient struct {
	next     llm.LLMClient
	recorder metrics.Recorder
	provider string
}

func withMetrics(recorder metrics.Recorder, provider string) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return &metricsClient{next: next, recorder: recorder, provider: provider}
	}
}

func (m *metricsClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := m.next.Complete(ctx, in)
	status := "success"
	if err != nil {
		status = "error"
	}
	m.recorder.ObserveModelRequest(m.provider, m.next.GetModelName(), status, time.Since(start))
	return resp, err
}

// Stream passes through unobserved; streamed turns are accounted by the
// consumer when the stream completes.
func (m *metricsClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return m.next.Stream(ctx, in)
}

func (m *metricsClient) GetModelName() string {
	return m.next.GetModelName()
}
