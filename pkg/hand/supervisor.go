package hand

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/eventlog"
	"github.com/suryarastogi/helping-hands-sub000/pkg/exec"
	"github.com/suryarastogi/helping-hands-sub000/pkg/git"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
	"github.com/suryarastogi/helping-hands-sub000/pkg/metrics"
	"github.com/suryarastogi/helping-hands-sub000/pkg/workspace"
)

// Supervisor phase names. INIT always completes, successfully or not, before
// TASK begins; FAILED and INTERRUPTED are reachable from INIT and TASK.
const (
	phaseInit        = "INIT"
	phaseTask        = "TASK"
	phaseFinalizing  = "FINALIZING"
	phaseDone        = "DONE"
	phaseFailed      = "FAILED"
	phaseInterrupted = "INTERRUPTED"
)

// initPromptText is the INIT-phase prompt. The agent reads the repository and
// reports back; no edits are expected.
const initPromptText = "Read the repository in the current directory and internalize its layout, " +
	"conventions, and build tooling. Do not modify any files. Reply with a brief summary of the project."

// applyChangesNudge is appended to the task prompt when a run with edit
// intent exits cleanly without touching the workspace.
const applyChangesNudge = "Apply the changes now."

// diffChecker reports whether the workspace accumulated uncommitted changes.
// The second return is false when the answer cannot be determined, for
// example outside a version-controlled directory.
type diffChecker interface {
	changed(ctx context.Context, dir string) (bool, bool)
}

type gitDiffChecker struct{}

func (gitDiffChecker) changed(ctx context.Context, dir string) (bool, bool) {
	repo := git.NewRepo(dir, nil)
	if !repo.IsRepo(ctx) {
		return false, false
	}
	has, err := repo.HasChanges(ctx)
	if err != nil {
		return false, false
	}
	return has, true
}

// procHand drives an external coding-agent CLI through the two-phase state
// machine: INIT (learn the repository) then TASK (apply the prompt), with the
// retry tree evaluated on TASK failures.
//
//nolint:govet // Backend struct, logical grouping preferred
type procHand struct {
	lifecycle

	cfg       *config.Config
	policy    backendPolicy
	logger    *logx.Logger
	recorder  metrics.Recorder
	finalizer Finalizer
	launcher  launcher
	diff      diffChecker
}

func newProcHand(cfg *config.Config, policy backendPolicy, recorder metrics.Recorder, finalizer Finalizer) *procHand {
	logger := logx.NewLogger("hand-" + policy.id)

	var docker *exec.DockerExec
	if cfg.UseContainer {
		docker = exec.NewDockerExec(cfg.ContainerImage)
	}

	return &procHand{
		cfg:       cfg,
		policy:    policy,
		logger:    logger,
		recorder:  recorder,
		finalizer: finalizer,
		launcher: &processLauncher{
			logger:      logger,
			docker:      docker,
			idleTimeout: cfg.IdleTimeout.Std(),
			heartbeat:   cfg.HeartbeatInterval.Std(),
		},
		diff: gitDiffChecker{},
	}
}

// Run implements Hand.
func (h *procHand) Run(ctx context.Context, req Request) (*Response, error) {
	intr, err := h.begin()
	if err != nil {
		return nil, err
	}
	defer h.end()
	return h.runCore(ctx, req, intr, nil)
}

// Stream implements Hand.
func (h *procHand) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	intr, err := h.begin()
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, streamBuffer)
	go func() {
		defer h.end()
		defer close(out)

		sink := func(text string) {
			select {
			case out <- Chunk{Text: text}:
			default: // consumer is behind, drop rather than stall the run
			}
		}

		resp, err := h.runCore(ctx, req, intr, sink)
		if err != nil {
			resp = &Response{
				Summary: err.Error(),
				Reason:  ReasonFailed,
				Metadata: Metadata{
					RunID:   req.RunID,
					Backend: h.policy.id,
					Model:   h.cfg.Model,
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

// streamBuffer sizes the chunk channel for both backends.
const streamBuffer = 256

// taskPromptFor composes the TASK-phase prompt, folding in any resume
// identifier the caller supplied.
func taskPromptFor(req Request) string {
	if req.Resume == "" {
		return req.Prompt
	}
	return fmt.Sprintf("Resume the earlier work tracked as %s.\n\n%s", req.Resume, req.Prompt)
}

// runState is one supervised run in flight.
//
//nolint:govet // Run state struct, logical grouping preferred
type runState struct {
	runID  string
	ws     *workspace.Workspace
	rl     *runLog
	intr   *interrupter
	sink   func(string)
	launch launchState
	env    []string

	// classification of the most recent session's output
	classified failureKind
	diagnostic string
	tail       []string
}

func (h *procHand) runCore(ctx context.Context, req Request, intr *interrupter, sink func(string)) (*Response, error) {
	ws, err := workspace.New(req.Workspace)
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = NewRunID()
	}

	st := &runState{
		runID: runID,
		ws:    ws,
		intr:  intr,
		sink:  sink,
		launch: launchState{
			command:   append([]string{}, h.policy.command...),
			prompt:    initPromptText,
			model:     h.cfg.Model,
			useBypass: h.cfg.SkipPermissions,
		},
		env: h.environment(),
	}
	if h.cfg.AgentCmd != "" {
		st.launch.command = strings.Fields(h.cfg.AgentCmd)
	}

	st.rl = openRunLog(ws, h.cfg.DataDir, h.logger)
	defer st.rl.close()
	st.rl.start(runID, req.Prompt, h.policy.id, h.cfg.Model)
	st.rl.event(eventlog.NewEvent(runID, eventlog.EventRunStarted, req.Prompt))

	start := time.Now()
	resp := h.execute(ctx, req, st)
	h.recorder.ObserveRun(h.policy.id, resp.Reason, resp.Metadata.Iterations, time.Since(start))
	st.rl.finish(resp)
	st.rl.event(eventlog.NewEvent(runID, eventlog.EventRunFinished, resp.Summary).
		WithField("reason", resp.Reason))
	return resp, nil
}

// execute walks the phase state machine to a terminal response.
func (h *procHand) execute(ctx context.Context, req Request, st *runState) *Response {
	if err := st.ws.WriteRunMarker(h.cfg.DataDir, req.Prompt); err != nil {
		h.logger.Warn("failed to write run marker: %v", err)
	}

	// INIT: one launch, advisory. A missing executable is left for the TASK
	// retry tree to resolve; other launch failures are fatal here.
	h.enterPhase(st, phaseInit)
	result, err := h.launchSession(ctx, st)
	switch {
	case err != nil && isProcessNotFound(err):
		h.logger.Warn("initialization launch failed (%v), continuing to task phase", err)
	case err != nil:
		return h.failed(st, 0, fmt.Sprintf("initialization launch failed: %v", err))
	case result.interrupted:
		return h.interrupted(st, 0)
	case result.idleTimedOut:
		h.logger.Warn("initialization produced no output for %s, continuing to task phase", h.cfg.IdleTimeout.Std())
	case result.exitCode != 0:
		h.logger.Warn("initialization exited with code %d, continuing to task phase", result.exitCode)
	}

	// TASK: first launch plus at most MaxRetryDepth relaunches.
	h.enterPhase(st, phaseTask)
	st.launch.prompt = taskPromptFor(req)

	launches := 0
	appliedFixes := make(map[failureKind]bool)
	for {
		if st.intr.interrupted() || ctx.Err() != nil {
			return h.interrupted(st, launches)
		}

		result, err = h.launchSession(ctx, st)
		launches++

		kind := failNone
		switch {
		case err != nil && isProcessNotFound(err):
			kind = failNotFound
			st.diagnostic = err.Error()
		case err != nil:
			return h.failed(st, launches, fmt.Sprintf("task launch failed: %v", err))
		case result.interrupted:
			return h.interrupted(st, launches)
		case result.idleTimedOut:
			return h.failed(st, launches, fmt.Sprintf("task process produced no output for %s", h.cfg.IdleTimeout.Std()))
		default:
			kind = st.classified
		}

		if kind == failNone {
			if result.exitCode != 0 {
				return h.failed(st, launches, fmt.Sprintf("task process exited with code %d: %s", result.exitCode, lastLine(result.lastOutput)))
			}
			if h.needsChanges(ctx, st) {
				kind = failNoChanges
				st.diagnostic = "process exited cleanly but no workspace changes were detected"
			} else {
				break // task done
			}
		}

		if appliedFixes[kind] {
			return h.failed(st, launches, st.diagnostic)
		}
		if launches > h.cfg.MaxRetryDepth {
			return h.failed(st, launches, st.diagnostic)
		}
		if ok := h.applyFix(st, kind); !ok {
			return h.failed(st, launches, st.diagnostic)
		}
		appliedFixes[kind] = true
		h.recorder.IncRelaunch(h.policy.id, kind.String())
		st.rl.event(eventlog.NewEvent(st.runID, eventlog.EventPhaseChange, phaseTask).
			WithField("retry", kind.String()).
			WithField("launch", strconv.Itoa(launches+1)))
		h.logger.Info("relaunching after %s (launch %d)", kind, launches+1)
	}

	resp := &Response{
		Success: true,
		Reason:  ReasonCompleted,
		Summary: fmt.Sprintf("Backend %s completed the task after %d task launch(es).", h.policy.id, launches),
		Metadata: Metadata{
			RunID:      st.runID,
			Backend:    h.policy.id,
			Model:      h.cfg.Model,
			Iterations: launches,
		},
	}

	h.enterPhase(st, phaseFinalizing)
	if req.Finalize {
		finalizeRun(ctx, h.finalizer, st.ws.Root(), req.Prompt, resp, h.logger)
	}
	h.enterPhase(st, phaseDone)
	return resp
}

// launchSession runs one process session with fresh output classification.
func (h *procHand) launchSession(ctx context.Context, st *runState) (sessionResult, error) {
	st.classified = failNone
	st.diagnostic = ""

	onLine := func(line string) {
		if st.sink != nil {
			st.sink(line)
		}
		if strings.HasPrefix(line, "[hands] ") {
			return // synthetic liveness, not agent output
		}
		st.rl.event(eventlog.NewEvent(st.runID, eventlog.EventProcessLine, line))
		if st.classified == failNone {
			if kind := h.policy.classifyLine(line); kind != failNone {
				st.classified = kind
				st.diagnostic = line
			}
		}
	}

	spec := launchSpec{
		argv: h.policy.argv(st.launch),
		dir:  st.ws.Root(),
		env:  st.env,
	}
	result, err := h.launcher.launch(ctx, spec, st.intr, onLine)
	st.tail = result.lastOutput
	return result, err
}

// needsChanges reports whether the no-changes retry applies: the prompt asked
// for edits, the workspace is diffable, and nothing changed.
func (h *procHand) needsChanges(ctx context.Context, st *runState) bool {
	if !hasEditIntent(st.launch.prompt) {
		return false
	}
	changed, ok := h.diff.changed(ctx, st.ws.Root())
	return ok && !changed
}

// applyFix mutates the launch state for one retry. Returns false when the
// tree has no remedy, which is fatal.
func (h *procHand) applyFix(st *runState, kind failureKind) bool {
	switch kind {
	case failNotFound:
		if st.launch.usedFallback || len(h.policy.fallback) == 0 {
			return false
		}
		st.launch.command = append([]string{}, h.policy.fallback...)
		st.launch.usedFallback = true
	case failPermission:
		st.launch.useBypass = !st.launch.useBypass
	case failModelUnavailable:
		st.launch.model = ""
	case failNoChanges:
		st.launch.prompt = st.launch.prompt + "\n\n" + applyChangesNudge
	default:
		return false
	}
	return true
}

func (h *procHand) enterPhase(st *runState, phase string) {
	h.logger.Info("phase %s", phase)
	st.rl.event(eventlog.NewEvent(st.runID, eventlog.EventPhaseChange, phase))
	if st.sink != nil {
		st.sink("[hands] phase " + phase)
	}
}

// failed builds the terminal FAILED response, preserving the last diagnostic
// verbatim and flushing the output tail to any stream consumer.
func (h *procHand) failed(st *runState, launches int, diagnostic string) *Response {
	h.enterPhase(st, phaseFailed)
	if st.sink != nil {
		for _, line := range st.tail {
			st.sink(line)
		}
	}
	summary := fmt.Sprintf("Backend %s failed after %d task launch(es).", h.policy.id, launches)
	if diagnostic != "" {
		summary = fmt.Sprintf("%s Last diagnostic: %s", summary, diagnostic)
	}
	return &Response{
		Reason:  ReasonFailed,
		Summary: summary,
		Metadata: Metadata{
			RunID:      st.runID,
			Backend:    h.policy.id,
			Model:      h.cfg.Model,
			Iterations: launches,
		},
	}
}

func (h *procHand) interrupted(st *runState, launches int) *Response {
	h.enterPhase(st, phaseInterrupted)
	return &Response{
		Reason:  ReasonInterrupted,
		Summary: "Run interrupted before completion.",
		Metadata: Metadata{
			RunID:       st.runID,
			Backend:     h.policy.id,
			Model:       h.cfg.Model,
			Iterations:  launches,
			Interrupted: true,
		},
	}
}

// environment forwards the backend's auth secrets into the child process.
func (h *procHand) environment() []string {
	var env []string
	for _, name := range h.policy.authSecrets {
		value, err := config.GetSecret(name)
		if err != nil || value == "" {
			continue
		}
		env = append(env, name+"="+value)
	}
	return env
}

func isProcessNotFound(err error) bool {
	return errors.Is(err, errProcessNotFound)
}

func lastLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return "(no output)"
}
