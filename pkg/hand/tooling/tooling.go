// Package tooling executes parsed directives against a workspace and formats
// the results for feedback into the next model turn. Execution is capability
// gated: a request for a disabled capability produces an error result, never
// an error return, so the calling loop always continues.
package tooling

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/exec"
	"github.com/suryarastogi/helping-hands-sub000/pkg/hand/directive"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
	"github.com/suryarastogi/helping-hands-sub000/pkg/workspace"
)

// Capability names one kind of tool execution a run may be allowed to
// perform. A request's kind is the capability it requires.
type Capability string

// Known capabilities.
const (
	CapRead      Capability = "read"
	CapWrite     Capability = "write"
	CapCommand   Capability = "command"
	CapWebSearch Capability = "web_search"
	CapWebBrowse Capability = "web_browse"
)

// TruncationMarker is appended to any tool output cut at the size cap.
const TruncationMarker = "\n[output truncated]"

// DefaultCapabilities returns the capability set used when none is
// configured.
func DefaultCapabilities() []Capability {
	return []Capability{CapRead, CapWrite, CapCommand, CapWebSearch, CapWebBrowse}
}

// Request is one parsed directive ready for execution. Target holds the
// path for read/write, the command line for command, the query for
// web_search, and the URL for web_browse. Payload holds the file content for
// write requests.
//
//nolint:govet // Request struct, logical grouping preferred
type Request struct {
	Kind    Capability
	Target  string
	Payload string
	Line    int
}

// Result is the outcome of executing a Request. Content is the text fed back
// into the next turn; Truncated is set when Content was cut at the size cap.
//
//nolint:govet // Result struct, logical grouping preferred
type Result struct {
	Kind      Capability
	Target    string
	Success   bool
	Content   string
	Truncated bool
}

// Feedback renders the result as text for re-injection into the
// conversation.
func (r Result) Feedback() string {
	status := "ok"
	if !r.Success {
		status = "error"
	}
	header := "[" + string(r.Kind)
	if r.Target != "" {
		header += " " + r.Target
	}
	header += "] " + status
	if r.Content == "" {
		return header
	}
	return header + "\n" + r.Content
}

// RequestFromDirective converts a parsed directive into an executable
// request. Completion markers are not executable and return false.
func RequestFromDirective(d directive.Directive) (Request, bool) {
	switch d.Kind {
	case directive.KindRead:
		return Request{Kind: CapRead, Target: d.Path, Line: d.Line}, true
	case directive.KindWrite:
		return Request{Kind: CapWrite, Target: d.Path, Payload: d.Content, Line: d.Line}, true
	case directive.KindTool:
		payload := directive.Payload(d.Payload)
		req := Request{Kind: Capability(d.Tool), Target: d.Payload, Line: d.Line}
		switch Capability(d.Tool) {
		case CapCommand:
			if cmd, ok := payload["cmd"]; ok {
				req.Target = cmd
			}
		case CapWebSearch:
			if query, ok := payload["query"]; ok {
				req.Target = query
			}
		case CapWebBrowse:
			if url, ok := payload["url"]; ok {
				req.Target = url
			}
		}
		return req, true
	default:
		return Request{}, false
	}
}

// Executor dispatches requests to the workspace, the command runner, or the
// web clients.
type Executor struct {
	workspace  *workspace.Workspace
	runner     exec.Executor
	search     searchProvider
	httpClient *http.Client
	logger     *logx.Logger
	enabled    map[Capability]bool
	shell      string
	outputCap  int
	webTimeout time.Duration
}

// NewExecutor builds an executor for one workspace. The runner executes
// command requests; passing nil selects local execution.
func NewExecutor(ws *workspace.Workspace, runner exec.Executor, cfg config.ToolsConfig) *Executor {
	if runner == nil {
		runner = exec.NewLocalExec()
	}

	enabled := make(map[Capability]bool)
	if len(cfg.Capabilities) == 0 {
		for _, c := range DefaultCapabilities() {
			enabled[c] = true
		}
	} else {
		for _, name := range cfg.Capabilities {
			enabled[Capability(name)] = true
		}
	}

	shell := cfg.CommandShell
	if shell == "" {
		shell = "sh"
	}
	outputCap := cfg.OutputCap
	if outputCap <= 0 {
		outputCap = config.DefaultToolOutputCap
	}
	webTimeout := cfg.WebTimeout.Std()
	if webTimeout <= 0 {
		webTimeout = config.DefaultWebTimeout
	}

	httpClient := &http.Client{
		Timeout: webTimeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &Executor{
		workspace:  ws,
		runner:     runner,
		search:     newSearchProvider(cfg, httpClient),
		httpClient: httpClient,
		logger:     logx.NewLogger("tooling"),
		enabled:    enabled,
		shell:      shell,
		outputCap:  outputCap,
		webTimeout: webTimeout,
	}
}

// Enabled reports whether a capability may be executed.
func (e *Executor) Enabled(capability Capability) bool {
	return e.enabled[capability]
}

// Execute runs one request and returns its result. Failures are reported in
// the result; Execute itself never fails.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	if !e.enabled[req.Kind] {
		return e.fail(req, fmt.Sprintf("capability disabled: %s", req.Kind))
	}

	switch req.Kind {
	case CapRead:
		return e.read(req)
	case CapWrite:
		return e.write(req)
	case CapCommand:
		return e.command(ctx, req)
	case CapWebSearch:
		return e.webSearch(ctx, req)
	case CapWebBrowse:
		return e.webBrowse(ctx, req)
	default:
		return e.fail(req, fmt.Sprintf("unknown capability: %s", req.Kind))
	}
}

func (e *Executor) read(req Request) Result {
	data, err := e.workspace.ReadFile(req.Target)
	if err != nil {
		return e.fail(req, err.Error())
	}
	return e.ok(req, string(data))
}

func (e *Executor) write(req Request) Result {
	if err := e.workspace.WriteFile(req.Target, []byte(req.Payload)); err != nil {
		return e.fail(req, err.Error())
	}
	return e.ok(req, fmt.Sprintf("wrote %d bytes", len(req.Payload)))
}

func (e *Executor) command(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Target) == "" {
		return e.fail(req, "empty command")
	}

	opts := exec.DefaultOpts()
	opts.WorkDir = e.workspace.Root()

	result, err := e.runner.Run(ctx, []string{e.shell, "-c", req.Target}, opts)
	if err != nil {
		return e.fail(req, fmt.Sprintf("command failed to run: %v", err))
	}

	content := formatRunOutput(result)
	if result.ExitCode != 0 {
		return e.fail(req, content)
	}
	return e.ok(req, content)
}

func (e *Executor) webSearch(ctx context.Context, req Request) Result {
	query := strings.TrimSpace(req.Target)
	if query == "" {
		return e.fail(req, "empty search query")
	}

	ctx, cancel := context.WithTimeout(ctx, e.webTimeout)
	defer cancel()

	results, err := e.search.search(ctx, query, maxSearchResults)
	if err != nil {
		return e.fail(req, fmt.Sprintf("search failed: %v", err))
	}
	if len(results) == 0 {
		return e.ok(req, "no results")
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   %s\n", r.URL)
		}
	}
	return e.ok(req, strings.TrimRight(b.String(), "\n"))
}

func (e *Executor) ok(req Request, content string) Result {
	content, truncated := e.truncate(content)
	e.logger.Debug("%s %s ok (%d bytes)", req.Kind, req.Target, len(content))
	return Result{Kind: req.Kind, Target: req.Target, Success: true, Content: content, Truncated: truncated}
}

func (e *Executor) fail(req Request, content string) Result {
	content, truncated := e.truncate(content)
	e.logger.Debug("%s %s failed: %s", req.Kind, req.Target, firstLine(content))
	return Result{Kind: req.Kind, Target: req.Target, Success: false, Content: content, Truncated: truncated}
}

func (e *Executor) truncate(s string) (string, bool) {
	if len(s) <= e.outputCap {
		return s, false
	}
	return s[:e.outputCap] + TruncationMarker, true
}

func formatRunOutput(result exec.Result) string {
	var parts []string
	if out := strings.TrimSpace(result.Stdout); out != "" {
		parts = append(parts, out)
	}
	if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
		parts = append(parts, "stderr:\n"+errOut)
	}
	if result.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit status %d", result.ExitCode))
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
