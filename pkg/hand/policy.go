package hand

import (
	"fmt"
	"strings"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
)

// failureKind classifies a task-phase failure for the retry tree.
type failureKind int

const (
	failNone failureKind = iota
	failNotFound
	failPermission
	failModelUnavailable
	failNoChanges
)

func (k failureKind) String() string {
	switch k {
	case failNotFound:
		return "process_not_found"
	case failPermission:
		return "permission_rejected"
	case failModelUnavailable:
		return "model_unavailable"
	case failNoChanges:
		return "no_changes"
	default:
		return "none"
	}
}

// backendPolicy describes how one external CLI is launched and how its
// output maps onto the retry tree. The four CLI backends share one
// supervisor; everything backend-specific lives here.
//
//nolint:govet // Policy table struct, logical grouping preferred
type backendPolicy struct {
	id string

	// command is the base invocation; fallback replaces it after a
	// process-not-found failure. Empty fallback means fail fatally.
	command  []string
	fallback []string

	// defaultFlags are injected once before the first launch to force
	// non-interactive operation.
	defaultFlags []string

	// modelFlag carries the model name; empty means the backend takes no
	// model argument. bypassFlag is the permission-bypass switch toggled by
	// the retry tree. promptFlag carries the prompt; empty appends the
	// prompt as the final positional argument.
	modelFlag  string
	bypassFlag string
	promptFlag string

	// authSecrets are forwarded from the secret store into the process
	// environment when present.
	authSecrets []string

	notFoundPatterns         []string
	permissionPatterns       []string
	modelUnavailablePatterns []string
}

//nolint:gochecknoglobals // Intentional package-level policy table
var backendPolicies = map[string]backendPolicy{
	config.BackendClaude: {
		id:           config.BackendClaude,
		command:      []string{"claude"},
		fallback:     []string{"npx", "@anthropic-ai/claude-code"},
		defaultFlags: []string{"--output-format", "text"},
		modelFlag:    "--model",
		bypassFlag:   "--dangerously-skip-permissions",
		promptFlag:   "-p",
		authSecrets:  []string{"ANTHROPIC_API_KEY"},
		notFoundPatterns: []string{
			"command not found", "executable file not found", "no such file or directory",
		},
		permissionPatterns: []string{
			"permission denied", "requires approval", "approval required",
			"--dangerously-skip-permissions",
		},
		modelUnavailablePatterns: []string{
			"model not found", "unknown model", "invalid model", "not_found_error",
		},
	},
	config.BackendCodex: {
		id:           config.BackendCodex,
		command:      []string{"codex", "exec"},
		fallback:     []string{"npx", "@openai/codex", "exec"},
		defaultFlags: nil,
		modelFlag:    "--model",
		bypassFlag:   "--full-auto",
		promptFlag:   "",
		authSecrets:  []string{"OPENAI_API_KEY"},
		notFoundPatterns: []string{
			"command not found", "executable file not found", "no such file or directory",
		},
		permissionPatterns: []string{
			"permission denied", "approval required", "requires approval", "sandbox denied",
		},
		modelUnavailablePatterns: []string{
			"model not found", "invalid model", "unsupported model",
		},
	},
	config.BackendGemini: {
		id:           config.BackendGemini,
		command:      []string{"gemini"},
		fallback:     []string{"npx", "@google/gemini-cli"},
		defaultFlags: nil,
		modelFlag:    "-m",
		bypassFlag:   "--yolo",
		promptFlag:   "-p",
		authSecrets:  []string{"GEMINI_API_KEY"},
		notFoundPatterns: []string{
			"command not found", "executable file not found", "no such file or directory",
		},
		permissionPatterns: []string{
			"permission denied", "requires confirmation", "approval required",
		},
		modelUnavailablePatterns: []string{
			"model not found", "invalid model", "unknown model",
		},
	},
	config.BackendAider: {
		id:           config.BackendAider,
		command:      []string{"aider"},
		fallback:     []string{"python", "-m", "aider"},
		defaultFlags: []string{"--no-pretty", "--no-auto-commits"},
		modelFlag:    "--model",
		bypassFlag:   "--yes-always",
		promptFlag:   "--message",
		authSecrets:  []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY"},
		notFoundPatterns: []string{
			"command not found", "no module named aider", "no such file or directory",
		},
		permissionPatterns: []string{
			"permission denied", "confirm before", "needs your confirmation",
		},
		modelUnavailablePatterns: []string{
			"unknown model", "model not found", "does not support",
		},
	},
}

// policyFor returns the policy table entry for a CLI backend.
func policyFor(backend string) (backendPolicy, error) {
	policy, ok := backendPolicies[backend]
	if !ok {
		return backendPolicy{}, fmt.Errorf("no external CLI policy for backend %q", backend)
	}
	return policy, nil
}

// launchState is the mutable launch configuration the retry tree adjusts
// between attempts.
//
//nolint:govet // Launch state struct, logical grouping preferred
type launchState struct {
	command      []string
	prompt       string
	model        string
	useBypass    bool
	usedFallback bool
}

// argv assembles the full command line for the current launch state.
// Default-flag injection happens here, at the same point for every backend.
func (p backendPolicy) argv(state launchState) []string {
	argv := append([]string{}, state.command...)
	argv = append(argv, p.defaultFlags...)
	if state.model != "" && p.modelFlag != "" {
		argv = append(argv, p.modelFlag, state.model)
	}
	if state.useBypass && p.bypassFlag != "" {
		argv = append(argv, p.bypassFlag)
	}
	if p.promptFlag != "" {
		argv = append(argv, p.promptFlag, state.prompt)
	} else {
		argv = append(argv, state.prompt)
	}
	return argv
}

// classifyLine matches one output line against the policy's failure
// patterns.
func (p backendPolicy) classifyLine(line string) failureKind {
	lower := strings.ToLower(line)
	for _, pattern := range p.notFoundPatterns {
		if strings.Contains(lower, pattern) {
			return failNotFound
		}
	}
	for _, pattern := range p.permissionPatterns {
		if strings.Contains(lower, pattern) {
			return failPermission
		}
	}
	for _, pattern := range p.modelUnavailablePatterns {
		if strings.Contains(lower, pattern) {
			return failModelUnavailable
		}
	}
	return failNone
}

//nolint:gochecknoglobals // Intentional package-level verb list
var editIntentVerbs = []string{
	"add", "fix", "change", "update", "implement", "refactor",
	"remove", "write", "create", "delete", "rename", "modify",
}

// hasEditIntent reports whether the prompt asks for changes rather than
// information. It gates the no-changes retry: a purely informational prompt
// legitimately produces no diff.
func hasEditIntent(prompt string) bool {
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		for _, verb := range editIntentVerbs {
			if word == verb {
				return true
			}
		}
	}
	return false
}
