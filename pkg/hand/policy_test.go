package hand

import (
	"reflect"
	"testing"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
)

func TestPolicyForKnownBackends(t *testing.T) {
	for _, backend := range []string{config.BackendClaude, config.BackendCodex, config.BackendGemini, config.BackendAider} {
		policy, err := policyFor(backend)
		if err != nil {
			t.Fatalf("policyFor(%q) error: %v", backend, err)
		}
		if policy.id != backend {
			t.Errorf("policyFor(%q).id = %q", backend, policy.id)
		}
		if len(policy.command) == 0 {
			t.Errorf("policyFor(%q) has empty command", backend)
		}
	}
}

func TestPolicyForRejectsNative(t *testing.T) {
	if _, err := policyFor(config.BackendNative); err == nil {
		t.Fatal("policyFor(native) should error, the native backend has no CLI policy")
	}
}

func TestArgvClaude(t *testing.T) {
	policy, _ := policyFor(config.BackendClaude)
	state := launchState{
		command:   policy.command,
		prompt:    "fix the bug",
		model:     "claude-opus-4-1",
		useBypass: true,
	}

	got := policy.argv(state)
	want := []string{
		"claude", "--output-format", "text",
		"--model", "claude-opus-4-1",
		"--dangerously-skip-permissions",
		"-p", "fix the bug",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("argv = %v, want %v", got, want)
	}
}

func TestArgvCodexPositionalPrompt(t *testing.T) {
	policy, _ := policyFor(config.BackendCodex)
	state := launchState{
		command: policy.command,
		prompt:  "add a test",
		model:   "o3",
	}

	got := policy.argv(state)
	want := []string{"codex", "exec", "--model", "o3", "add a test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("argv = %v, want %v", got, want)
	}
}

func TestArgvOmitsStrippedModel(t *testing.T) {
	policy, _ := policyFor(config.BackendGemini)
	state := launchState{
		command: policy.command,
		prompt:  "hello",
		model:   "",
	}

	got := policy.argv(state)
	for _, arg := range got {
		if arg == "-m" {
			t.Errorf("argv %v still carries the model flag after stripping", got)
		}
	}
}

func TestArgvAiderDefaultFlags(t *testing.T) {
	policy, _ := policyFor(config.BackendAider)
	state := launchState{
		command:   policy.command,
		prompt:    "rename the package",
		model:     "gpt-4o",
		useBypass: true,
	}

	got := policy.argv(state)
	want := []string{
		"aider", "--no-pretty", "--no-auto-commits",
		"--model", "gpt-4o",
		"--yes-always",
		"--message", "rename the package",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("argv = %v, want %v", got, want)
	}
}

func TestClassifyLine(t *testing.T) {
	policy, _ := policyFor(config.BackendClaude)

	tests := []struct {
		line string
		want failureKind
	}{
		{"Error: permission denied while writing file", failPermission},
		{"PERMISSION DENIED", failPermission},
		{"this tool requires approval to continue", failPermission},
		{"zsh: command not found: claude", failNotFound},
		{"exec: \"claude\": executable file not found in $PATH", failNotFound},
		{"API error: model not found", failModelUnavailable},
		{"unknown model: claude-9", failModelUnavailable},
		{"Reading src/main.go...", failNone},
		{"", failNone},
	}
	for _, tt := range tests {
		if got := policy.classifyLine(tt.line); got != tt.want {
			t.Errorf("classifyLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestHasEditIntent(t *testing.T) {
	tests := []struct {
		prompt string
		want   bool
	}{
		{"Fix the login bug", true},
		{"fix it.", true},
		{"Update README.md with install steps", true},
		{"Please implement the parser", true},
		{"remove the dead code!", true},
		{"What does this function do?", false},
		{"Explain the retry logic", false},
		{"created items are listed here", false}, // whole-word match only
		{"", false},
	}
	for _, tt := range tests {
		if got := hasEditIntent(tt.prompt); got != tt.want {
			t.Errorf("hasEditIntent(%q) = %v, want %v", tt.prompt, got, tt.want)
		}
	}
}

func TestFailureKindString(t *testing.T) {
	tests := []struct {
		kind failureKind
		want string
	}{
		{failNone, "none"},
		{failNotFound, "process_not_found"},
		{failPermission, "permission_rejected"},
		{failModelUnavailable, "model_unavailable"},
		{failNoChanges, "no_changes"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("failureKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
