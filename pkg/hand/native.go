package hand

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/llm"
	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/llmerrors"
	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/contextmgr"
	"github.com/suryarastogi/helping-hands-sub000/pkg/eventlog"
	"github.com/suryarastogi/helping-hands-sub000/pkg/exec"
	"github.com/suryarastogi/helping-hands-sub000/pkg/hand/directive"
	"github.com/suryarastogi/helping-hands-sub000/pkg/hand/tooling"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
	"github.com/suryarastogi/helping-hands-sub000/pkg/metrics"
	"github.com/suryarastogi/helping-hands-sub000/pkg/workspace"
)

// noDirectiveNudge is fed back when a turn produced neither directives nor a
// completion marker. The turn still counts against the budget.
const noDirectiveNudge = "No directives or completion marker found. " +
	"Use @@READ, @@FILE, or @@TOOL to act, or reply SATISFIED: yes when the task is complete."

// continueNudge is fed back when the model only signalled it is not done yet.
const continueNudge = "Understood, continue working. Reply SATISFIED: yes when the task is complete."

// nativeHand drives a language model directly through the iterative loop:
// generate, parse directives, execute, feed results back, until the model
// declares satisfaction or the iteration budget runs out.
//
//nolint:govet // Backend struct, logical grouping preferred
type nativeHand struct {
	lifecycle

	cfg       *config.Config
	client    llm.LLMClient
	runner    exec.Executor
	recorder  metrics.Recorder
	finalizer Finalizer
	logger    *logx.Logger
}

func newNativeHand(cfg *config.Config, client llm.LLMClient, recorder metrics.Recorder, finalizer Finalizer) (*nativeHand, error) {
	runner, err := exec.Select(cfg.UseContainer, cfg.ContainerImage)
	if err != nil {
		return nil, err
	}
	return &nativeHand{
		cfg:       cfg,
		client:    client,
		runner:    runner,
		recorder:  recorder,
		finalizer: finalizer,
		logger:    logx.NewLogger("hand-native"),
	}, nil
}

// Interrupt implements Hand. Beyond raising the cooperative flag, in-flight
// containerized tool commands are stopped so the loop reaches its next turn
// boundary without waiting out a tool timeout.
func (n *nativeHand) Interrupt() {
	n.lifecycle.Interrupt()
	if d, ok := n.runner.(*exec.DockerExec); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := d.Shutdown(ctx); err != nil {
			n.logger.Warn("failed to stop in-flight containers: %v", err)
		}
	}
}

// Run implements Hand.
func (n *nativeHand) Run(ctx context.Context, req Request) (*Response, error) {
	intr, err := n.begin()
	if err != nil {
		return nil, err
	}
	defer n.end()
	return n.runCore(ctx, req, intr, nil)
}

// Stream implements Hand.
func (n *nativeHand) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	intr, err := n.begin()
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, streamBuffer)
	go func() {
		defer n.end()
		defer close(out)

		sink := func(text string) {
			select {
			case out <- Chunk{Text: text}:
			default: // consumer is behind, drop rather than stall the run
			}
		}

		resp, err := n.runCore(ctx, req, intr, sink)
		if err != nil {
			resp = &Response{
				Summary: err.Error(),
				Reason:  ReasonFailed,
				Metadata: Metadata{
					RunID:   req.RunID,
					Backend: config.BackendNative,
					Model:   n.cfg.Model,
				},
			}
		}
		select {
		case out <- Chunk{Final: resp}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (n *nativeHand) runCore(ctx context.Context, req Request, intr *interrupter, sink func(string)) (*Response, error) {
	ws, err := workspace.New(req.Workspace)
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = NewRunID()
	}

	toolsCfg := n.cfg.Tools
	if len(req.Capabilities) > 0 {
		toolsCfg.Capabilities = req.Capabilities
	}
	tools := tooling.NewExecutor(ws, n.runner, toolsCfg)

	if err := ws.WriteRunMarker(n.cfg.DataDir, req.Prompt); err != nil {
		n.logger.Warn("failed to write run marker: %v", err)
	}

	rl := openRunLog(ws, n.cfg.DataDir, n.logger)
	defer rl.close()
	rl.start(runID, req.Prompt, config.BackendNative, n.cfg.Model)
	rl.event(eventlog.NewEvent(runID, eventlog.EventRunStarted, req.Prompt))

	start := time.Now()
	resp := n.loop(ctx, req, runID, ws, tools, rl, intr, sink)
	n.recorder.ObserveRun(config.BackendNative, resp.Reason, resp.Metadata.Iterations, time.Since(start))
	rl.finish(resp)
	rl.event(eventlog.NewEvent(runID, eventlog.EventRunFinished, resp.Summary).
		WithField("reason", resp.Reason).
		WithField("files_changed", strconv.Itoa(len(resp.Metadata.FilesChanged))))
	return resp, nil
}

//nolint:govet // Loop state struct, logical grouping preferred
type loopState struct {
	iterations   int
	filesChanged []string
	seenFiles    map[string]bool
}

func (s *loopState) recordFile(path string) {
	if s.seenFiles[path] {
		return
	}
	s.seenFiles[path] = true
	s.filesChanged = append(s.filesChanged, path)
}

// loop runs the iteration state machine to a terminal response. The budget
// bounds model calls strictly; every turn consumes one slot.
func (n *nativeHand) loop(ctx context.Context, req Request, runID string, ws *workspace.Workspace, tools *tooling.Executor, rl *runLog, intr *interrupter, sink func(string)) *Response {
	budget := n.cfg.MaxIterations
	if req.MaxIterations > 0 {
		budget = req.MaxIterations
	}

	cm := contextmgr.NewContextManagerWithLimits(n.cfg.Model, contextmgr.Limits{
		MaxContextTokens: n.cfg.MaxContextTokensFor(),
		MaxReplyTokens:   n.cfg.Context.MaxReplyTokens,
		CompactionBuffer: n.cfg.Context.CompactionBuffer,
	})
	cm.AddMessage(string(llm.RoleSystem), systemPrompt(tools))
	task := taskPromptFor(req) + "\n\n" + ws.BootstrapContext()
	cm.AddMessage(string(llm.RoleUser), task)
	if logx.IsDebugEnabledForDomain("prompts") {
		n.logger.Debugd("prompts", "task prompt: %s", llmerrors.SanitizePrompt(task, 2000))
	}

	st := &loopState{seenFiles: make(map[string]bool)}

	for iter := 1; iter <= budget; iter++ {
		// Turn boundary: the one suspension point where interruption and
		// cancellation are observed.
		if intr.interrupted() || ctx.Err() != nil {
			return n.interrupted(runID, st)
		}

		cm.CompactIfNeeded()

		creq := llm.NewCompletionRequest(toCompletionMessages(cm.GetMessages()))
		if n.cfg.Context.MaxReplyTokens > 0 {
			creq.MaxTokens = n.cfg.Context.MaxReplyTokens
		}

		reply, err := n.client.Complete(ctx, creq)
		st.iterations = iter
		if err != nil {
			if sink != nil {
				sink(fmt.Sprintf("[hands] model call failed: %v", err))
			}
			return n.failed(runID, st, fmt.Sprintf("model call failed on iteration %d: %v", iter, err))
		}

		n.logger.Debug("iteration %d reply: %d bytes", iter, len(reply.Content))
		if sink != nil {
			sink(reply.Content)
		}
		rl.event(eventlog.NewEvent(runID, eventlog.EventModelReply, reply.Content).WithIteration(iter))
		cm.AddMessage(string(llm.RoleAssistant), reply.Content)

		dirs := directive.Parse(reply.Content)
		feedback := n.executeDirectives(ctx, runID, iter, dirs, tools, rl, st, sink)

		if yes, marked := directive.Satisfied(dirs); marked && yes {
			resp := &Response{
				Success: true,
				Reason:  ReasonSatisfied,
				Summary: fmt.Sprintf("Task converged after %d iteration(s); %d file(s) modified.", iter, len(st.filesChanged)),
				Metadata: Metadata{
					RunID:        runID,
					Backend:      config.BackendNative,
					Model:        n.cfg.Model,
					Iterations:   iter,
					FilesChanged: st.filesChanged,
				},
			}
			if req.Finalize {
				finalizeRun(ctx, n.finalizer, ws.Root(), req.Prompt, resp, n.logger)
			}
			return resp
		}

		switch {
		case len(dirs) == 0:
			cm.AddMessage(string(llm.RoleUser), noDirectiveNudge)
		case len(feedback) > 0:
			cm.AddMessage(string(llm.RoleUser), strings.Join(feedback, "\n\n"))
		default:
			cm.AddMessage(string(llm.RoleUser), continueNudge)
		}
	}

	return &Response{
		Reason:  ReasonBudgetExhausted,
		Summary: fmt.Sprintf("No completion marker after %d iteration(s); the run did not converge. %d file(s) modified.", budget, len(st.filesChanged)),
		Metadata: Metadata{
			RunID:        runID,
			Backend:      config.BackendNative,
			Model:        n.cfg.Model,
			Iterations:   st.iterations,
			FilesChanged: st.filesChanged,
		},
	}
}

// executeDirectives runs every actionable directive in the order it appeared
// and collects the feedback for the next turn. Failures feed back as tool
// results; they never abort the run.
func (n *nativeHand) executeDirectives(ctx context.Context, runID string, iter int, dirs []directive.Directive, tools *tooling.Executor, rl *runLog, st *loopState, sink func(string)) []string {
	var feedback []string
	for _, d := range dirs {
		treq, ok := tooling.RequestFromDirective(d)
		if !ok {
			continue
		}

		rl.event(eventlog.NewEvent(runID, eventlog.EventDirective, fmt.Sprintf("%s %s", treq.Kind, treq.Target)).WithIteration(iter))
		result := tools.Execute(ctx, treq)

		status := "success"
		if !result.Success {
			status = "error"
		}
		n.recorder.IncToolExecution(string(treq.Kind), status)
		rl.event(eventlog.NewEvent(runID, eventlog.EventToolResult, result.Feedback()).WithIteration(iter))
		if sink != nil {
			sink(fmt.Sprintf("[hands] %s %s %s", treq.Kind, treq.Target, status))
		}

		if result.Success && treq.Kind == tooling.CapWrite {
			st.recordFile(treq.Target)
		}
		feedback = append(feedback, result.Feedback())
	}
	return feedback
}

func (n *nativeHand) interrupted(runID string, st *loopState) *Response {
	return &Response{
		Reason:  ReasonInterrupted,
		Summary: "Run interrupted before completion.",
		Metadata: Metadata{
			RunID:        runID,
			Backend:      config.BackendNative,
			Model:        n.cfg.Model,
			Iterations:   st.iterations,
			FilesChanged: st.filesChanged,
			Interrupted:  true,
		},
	}
}

func (n *nativeHand) failed(runID string, st *loopState, diagnostic string) *Response {
	return &Response{
		Reason:  ReasonFailed,
		Summary: fmt.Sprintf("Run failed. Last diagnostic: %s", diagnostic),
		Metadata: Metadata{
			RunID:        runID,
			Backend:      config.BackendNative,
			Model:        n.cfg.Model,
			Iterations:   st.iterations,
			FilesChanged: st.filesChanged,
		},
	}
}

// systemPrompt describes the directive protocol and the capabilities enabled
// for this run. The grammar wording matches what the parser accepts.
func systemPrompt(tools *tooling.Executor) string {
	var enabled []string
	for _, c := range tooling.DefaultCapabilities() {
		if tools.Enabled(c) {
			enabled = append(enabled, string(c))
		}
	}

	var b strings.Builder
	b.WriteString("You are an autonomous coding agent operating on a repository checkout. ")
	b.WriteString("You act only through directives embedded in your replies, each on its own line:\n\n")
	b.WriteString(directive.ReadPrefix + " <relative-path>\n")
	b.WriteString("    Requests the file's contents; they arrive in the next message.\n\n")
	b.WriteString(directive.FilePrefix + " <relative-path>\n")
	b.WriteString("    Followed by a fenced code block holding the file's complete new contents. ")
	b.WriteString("The file is written exactly as given, replacing any previous version.\n\n")
	b.WriteString(directive.ToolPrefix + " <capability> <payload>\n")
	b.WriteString("    Invokes a tool. Enabled capabilities: " + strings.Join(enabled, ", ") + ".\n")
	b.WriteString("    command takes cmd=<shell command>, web_search takes query=<terms>, ")
	b.WriteString("web_browse takes url=<http-url>. JSON object payloads work too.\n\n")
	b.WriteString("SATISFIED: yes\n")
	b.WriteString("    Ends the run; emit it only when the task is complete. ")
	b.WriteString("Reply SATISFIED: no if you still have work to do.\n\n")
	b.WriteString("Directives execute in the order they appear and their results are fed back ")
	b.WriteString("in the next user message. Anything else in your reply is treated as narrative.")
	return b.String()
}

func toCompletionMessages(msgs []contextmgr.Message) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.CompletionMessage{Role: llm.CompletionRole(m.Role), Content: m.Content})
	}
	return out
}
