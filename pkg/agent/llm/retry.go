package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/llmerrors"
)

// retryClient wraps an LLMClient with classified-error retry. The backoff
// schedule comes from the error's own type: rate limits wait longer than
// plain transient failures, auth and bad-prompt errors fail immediately.
type retryClient struct {
	next LLMClient
}

// WithRetry returns a middleware that retries Complete calls according to
// llmerrors classification.
func WithRetry() Middleware {
	return func(next LLMClient) LLMClient {
		return &retryClient{next: next}
	}
}

// Complete implements LLMClient with per-error-type retry.
func (r *retryClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := r.next.Complete(ctx, in)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		cfg := llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeUnknown]
		var llmErr *llmerrors.Error
		if errors.As(lastErr, &llmErr) {
			if !llmErr.IsRetryable() {
				return CompletionResponse{}, lastErr
			}
			cfg = llmErr.GetRetryConfig()
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return CompletionResponse{}, ctx.Err()
		case <-time.After(cfg.Delay(attempt + 1)):
		}
	}

	return CompletionResponse{}, fmt.Errorf("model call failed after retries: %w", lastErr)
}

// Stream is not retried: a broken stream surfaces to the caller, which starts
// a fresh run if it wants another attempt.
func (r *retryClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	return r.next.Stream(ctx, in)
}

// GetModelName returns the wrapped client's model.
func (r *retryClient) GetModelName() string {
	return r.next.GetModelName()
}
