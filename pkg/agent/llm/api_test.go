package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/llmerrors"
)

func TestNewCompletionRequest(t *testing.T) {
	req := NewCompletionRequest([]CompletionMessage{
		{Role: RoleUser, Content: "test"},
	})

	if len(req.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(req.Messages))
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected MaxTokens=%d, got %d", DefaultMaxTokens, req.MaxTokens)
	}
	if req.Temperature != TemperatureDefault {
		t.Errorf("expected default temperature, got %f", req.Temperature)
	}
}

func TestLLMConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  LLMConfig
		wantErr bool
	}{
		{
			name:    "valid",
			config:  LLMConfig{ModelName: "claude-sonnet-4-20250514", MaxTokens: 4096, Temperature: 0.2},
			wantErr: false,
		},
		{
			name:    "missing model",
			config:  LLMConfig{MaxTokens: 4096, Temperature: 0.2},
			wantErr: true,
		},
		{
			name:    "zero max tokens",
			config:  LLMConfig{ModelName: "gpt-5", Temperature: 0.2},
			wantErr: true,
		},
		{
			name:    "temperature out of range",
			config:  LLMConfig{ModelName: "gpt-5", MaxTokens: 100, Temperature: 3.0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStreamToReader(t *testing.T) {
	stream := make(chan StreamChunk, 3)
	stream <- StreamChunk{Content: "hello "}
	stream <- StreamChunk{Content: "world"}
	stream <- StreamChunk{Done: true}
	close(stream)

	data, err := io.ReadAll(StreamToReader(stream))
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("expected 'hello world', got %q", string(data))
	}
}

func TestStreamToReaderError(t *testing.T) {
	streamErr := errors.New("upstream broke")
	stream := make(chan StreamChunk, 1)
	stream <- StreamChunk{Error: streamErr}
	close(stream)

	_, err := io.ReadAll(StreamToReader(stream))
	if err == nil {
		t.Fatal("expected error from reader")
	}
}

// scriptedClient returns canned responses/errors in order.
type scriptedClient struct {
	responses []CompletionResponse
	errs      []error
	calls     int
}

func (s *scriptedClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return CompletionResponse{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return CompletionResponse{Content: "default"}, nil
}

func (s *scriptedClient) Stream(_ context.Context, _ CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func (s *scriptedClient) GetModelName() string { return "scripted" }

func TestChainOrdering(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next LLMClient) LLMClient {
			return &markClient{name: name, order: &order, next: next}
		}
	}

	base := &scriptedClient{responses: []CompletionResponse{{Content: "ok"}}}
	client := Chain(base, mark("outer"), mark("inner"))

	if _, err := client.Complete(context.Background(), CompletionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("expected outer before inner, got %v", order)
	}
}

type markClient struct {
	name  string
	order *[]string
	next  LLMClient
}

func (m *markClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	*m.order = append(*m.order, m.name)
	return m.next.Complete(ctx, in)
}

func (m *markClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	return m.next.Stream(ctx, in)
}

func (m *markClient) GetModelName() string { return m.next.GetModelName() }

func TestRetryStopsOnNonRetryable(t *testing.T) {
	base := &scriptedClient{
		errs: []error{llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")},
	}
	client := Chain(base, WithRetry())

	_, err := client.Complete(context.Background(), CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 1 {
		t.Errorf("expected exactly 1 call for auth error, got %d", base.calls)
	}
	if !llmerrors.Is(err, llmerrors.ErrorTypeAuth) {
		t.Errorf("expected auth classification, got %v", err)
	}
}

func TestRetryRecoversFromTransient(t *testing.T) {
	// Shrink the transient backoff so the test does not sleep for real.
	saved := llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeTransient]
	llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeTransient] = llmerrors.RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 1.0,
	}
	defer func() { llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeTransient] = saved }()

	base := &scriptedClient{
		errs:      []error{llmerrors.NewError(llmerrors.ErrorTypeTransient, "hiccup"), nil},
		responses: []CompletionResponse{{}, {Content: "recovered"}},
	}
	client := Chain(base, WithRetry())

	resp, err := client.Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("expected recovered response, got %q", resp.Content)
	}
	if base.calls != 2 {
		t.Errorf("expected 2 calls, got %d", base.calls)
	}
}
