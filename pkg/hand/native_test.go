package hand

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/llm"
	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/metrics"
)

// scriptedClient returns canned replies in order, recording every request.
// Replies past the end of the script are plain narrative so the loop keeps
// running until its budget.
type scriptedClient struct {
	replies  []string
	requests []llm.CompletionRequest
	onCall   func(call int)
	err      error
}

func (c *scriptedClient) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	call := len(c.requests)
	c.requests = append(c.requests, in)
	if c.onCall != nil {
		c.onCall(call)
	}
	if c.err != nil {
		return llm.CompletionResponse{}, c.err
	}
	if call >= len(c.replies) {
		return llm.CompletionResponse{Content: "Still working on it.", StopReason: "end_turn"}, nil
	}
	return llm.CompletionResponse{Content: c.replies[call], StopReason: "end_turn"}, nil
}

func (c *scriptedClient) Stream(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) GetModelName() string { return "scripted" }

func newTestNative(t *testing.T, client llm.LLMClient) (*nativeHand, string) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxIterations = 5
	n, err := newNativeHand(cfg, client, metrics.Nop(), nil)
	if err != nil {
		t.Fatalf("newNativeHand failed: %v", err)
	}
	return n, t.TempDir()
}

// lastUserMessage returns the content of the final user message in a request.
func lastUserMessage(t *testing.T, req llm.CompletionRequest) string {
	t.Helper()
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	t.Fatal("request contains no user message")
	return ""
}

func TestRunSatisfiedFirstIteration(t *testing.T) {
	client := &scriptedClient{replies: []string{"All done already.\n\nSATISFIED: yes"}}
	h, dir := newTestNative(t, client)

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "check the docs"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Errorf("Success = false, want true: %s", resp.Summary)
	}
	if resp.Reason != ReasonSatisfied {
		t.Errorf("Reason = %q, want %q", resp.Reason, ReasonSatisfied)
	}
	if resp.Metadata.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", resp.Metadata.Iterations)
	}
	if len(client.requests) != 1 {
		t.Errorf("model calls = %d, want 1", len(client.requests))
	}
}

func TestRunBudgetExhausted(t *testing.T) {
	client := &scriptedClient{} // never emits a completion marker
	h, dir := newTestNative(t, client)

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "ponder", MaxIterations: 3})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Reason != ReasonBudgetExhausted {
		t.Errorf("Reason = %q, want %q", resp.Reason, ReasonBudgetExhausted)
	}
	if len(client.requests) != 3 {
		t.Errorf("model calls = %d, want exactly 3", len(client.requests))
	}
	if resp.Metadata.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", resp.Metadata.Iterations)
	}
	if !strings.Contains(resp.Summary, "did not converge") {
		t.Errorf("Summary = %q, want non-convergence note", resp.Summary)
	}
}

func TestRunMissingReadContinues(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"@@READ: missing/file.txt",
		"Could not find it.\n\nSATISFIED: yes",
	}}
	h, dir := newTestNative(t, client)

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "read the notes"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Errorf("Success = false, want true: %s", resp.Summary)
	}
	if resp.Metadata.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2 (failed read must not abort the run)", resp.Metadata.Iterations)
	}

	feedback := lastUserMessage(t, client.requests[1])
	if !strings.Contains(feedback, "[read missing/file.txt] error") {
		t.Errorf("second-turn feedback = %q, want read error report", feedback)
	}
}

func TestRunWriteRoundTrip(t *testing.T) {
	content := "package main\n\nfunc main() {}"
	client := &scriptedClient{replies: []string{
		"Writing the file.\n\n@@FILE: cmd/stub.go\n```go\n" + content + "\n```\n\nSATISFIED: yes",
	}}
	h, dir := newTestNative(t, client)

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "create a stub"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false: %s", resp.Summary)
	}

	data, err := os.ReadFile(filepath.Join(dir, "cmd", "stub.go"))
	if err != nil {
		t.Fatalf("written file missing: %v", err)
	}
	if string(data) != content {
		t.Errorf("file content = %q, want %q", data, content)
	}
	if len(resp.Metadata.FilesChanged) != 1 || resp.Metadata.FilesChanged[0] != "cmd/stub.go" {
		t.Errorf("FilesChanged = %v, want [cmd/stub.go]", resp.Metadata.FilesChanged)
	}
}

func TestRunZeroDirectiveTurnCountsAndNudges(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"Let me think about the approach first.",
		"SATISFIED: yes",
	}}
	h, dir := newTestNative(t, client)

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "think"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if resp.Metadata.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2 (narrative turn still consumes budget)", resp.Metadata.Iterations)
	}
	if got := lastUserMessage(t, client.requests[1]); got != noDirectiveNudge {
		t.Errorf("nudge = %q, want %q", got, noDirectiveNudge)
	}
}

func TestRunSatisfiedNoContinues(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"Not there yet.\n\nSATISFIED: no",
		"SATISFIED: yes",
	}}
	h, dir := newTestNative(t, client)

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "carry on"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Errorf("Success = false, want true: %s", resp.Summary)
	}
	if resp.Metadata.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", resp.Metadata.Iterations)
	}
	if got := lastUserMessage(t, client.requests[1]); got != continueNudge {
		t.Errorf("feedback after SATISFIED: no = %q, want %q", got, continueNudge)
	}
}

func TestRunInterruptObservedAtTurnBoundary(t *testing.T) {
	client := &scriptedClient{}
	h, dir := newTestNative(t, client)
	client.onCall = func(int) { h.Interrupt() }

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "long task"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Reason != ReasonInterrupted {
		t.Errorf("Reason = %q, want %q", resp.Reason, ReasonInterrupted)
	}
	if !resp.Metadata.Interrupted {
		t.Error("Metadata.Interrupted = false, want true")
	}
	if len(client.requests) != 1 {
		t.Errorf("model calls = %d, want 1 (interrupt lands at the next turn boundary)", len(client.requests))
	}
}

func TestRunModelFailureResolvesToResponse(t *testing.T) {
	client := &scriptedClient{err: errors.New("api: overloaded")}
	h, dir := newTestNative(t, client)

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "anything"})
	if err != nil {
		t.Fatalf("Run error: %v (model failures must resolve to a response)", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Reason != ReasonFailed {
		t.Errorf("Reason = %q, want %q", resp.Reason, ReasonFailed)
	}
	if !strings.Contains(resp.Summary, "api: overloaded") {
		t.Errorf("Summary = %q, want the diagnostic preserved verbatim", resp.Summary)
	}
}

func TestRunInaccessibleWorkspaceIsAnError(t *testing.T) {
	client := &scriptedClient{}
	h, _ := newTestNative(t, client)

	if _, err := h.Run(context.Background(), Request{Workspace: "/does/not/exist", Prompt: "x"}); err == nil {
		t.Fatal("Run with a missing workspace should return an error")
	}
	if len(client.requests) != 0 {
		t.Errorf("model calls = %d, want 0", len(client.requests))
	}
}

func TestStreamDeliversTextAndFinalResponse(t *testing.T) {
	client := &scriptedClient{replies: []string{"Here is my plan.\n\nSATISFIED: yes"}}
	h, dir := newTestNative(t, client)

	ch, err := h.Stream(context.Background(), Request{Workspace: dir, Prompt: "plan"})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}

	var texts []string
	var final *Response
	for chunk := range ch {
		if chunk.Final != nil {
			final = chunk.Final
			continue
		}
		texts = append(texts, chunk.Text)
	}

	if final == nil {
		t.Fatal("stream closed without a final response")
	}
	if !final.Success {
		t.Errorf("final Success = false: %s", final.Summary)
	}
	found := false
	for _, text := range texts {
		if strings.Contains(text, "Here is my plan.") {
			found = true
		}
	}
	if !found {
		t.Errorf("stream chunks %q do not include the model reply", texts)
	}
}

func TestSystemPromptListsEnabledCapabilities(t *testing.T) {
	client := &scriptedClient{replies: []string{"SATISFIED: yes"}}
	h, dir := newTestNative(t, client)

	_, err := h.Run(context.Background(), Request{
		Workspace:    dir,
		Prompt:       "x",
		Capabilities: []string{"read", "write"},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	system := client.requests[0].Messages[0]
	if system.Role != llm.RoleSystem {
		t.Fatalf("first message role = %q, want system", system.Role)
	}
	if !strings.Contains(system.Content, "read, write") {
		t.Errorf("system prompt capabilities line missing: %q", system.Content)
	}
	if strings.Contains(system.Content, "read, write, command") {
		t.Error("system prompt lists capabilities that were not enabled")
	}
	if !strings.Contains(system.Content, "@@FILE:") {
		t.Error("system prompt does not describe the write directive")
	}
}
