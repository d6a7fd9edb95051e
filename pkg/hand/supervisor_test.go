package hand

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/metrics"
	"github.com/suryarastogi/helping-hands-sub000/pkg/workspace"
)

// fakeSession scripts the outcome of one launch. The zero value is a clean,
// silent, successful session.
type fakeSession struct {
	lines        []string
	exitCode     int
	interrupted  bool
	idleTimedOut bool
	err          error
}

// fakeLauncher replays scripted sessions and records every launch spec.
// Launches past the end of the script succeed silently.
type fakeLauncher struct {
	script   []fakeSession
	launches []launchSpec
}

func (f *fakeLauncher) launch(_ context.Context, spec launchSpec, _ *interrupter, onLine func(string)) (sessionResult, error) {
	idx := len(f.launches)
	f.launches = append(f.launches, spec)

	var session fakeSession
	if idx < len(f.script) {
		session = f.script[idx]
	}
	if session.err != nil {
		return sessionResult{}, session.err
	}

	var result sessionResult
	for _, line := range session.lines {
		if onLine != nil {
			onLine(line)
		}
		result.lastOutput = appendBounded(result.lastOutput, line, lastOutputLines)
	}
	result.exitCode = session.exitCode
	result.interrupted = session.interrupted
	result.idleTimedOut = session.idleTimedOut
	return result, nil
}

// taskLaunches returns the launches after the INIT phase's.
func (f *fakeLauncher) taskLaunches() []launchSpec {
	if len(f.launches) == 0 {
		return nil
	}
	return f.launches[1:]
}

// fakeDiff answers the workspace diff check from a scripted sequence.
type fakeDiff struct {
	known   bool
	answers []bool
	calls   int
}

func (f *fakeDiff) changed(_ context.Context, _ string) (bool, bool) {
	idx := f.calls
	f.calls++
	if idx < len(f.answers) {
		return f.answers[idx], f.known
	}
	if len(f.answers) > 0 {
		return f.answers[len(f.answers)-1], f.known
	}
	return false, f.known
}

func newTestProc(t *testing.T, script []fakeSession) (*procHand, *fakeLauncher, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Backend = config.BackendClaude

	policy, err := policyFor(cfg.Backend)
	if err != nil {
		t.Fatalf("policyFor: %v", err)
	}

	h := newProcHand(cfg, policy, metrics.Nop(), nil)
	fl := &fakeLauncher{script: script}
	h.launcher = fl
	h.diff = &fakeDiff{known: false}
	return h, fl, t.TempDir()
}

func promptOf(spec launchSpec) string {
	return spec.argv[len(spec.argv)-1]
}

func hasArg(spec launchSpec, arg string) bool {
	for _, a := range spec.argv {
		if a == arg {
			return true
		}
	}
	return false
}

func TestRunTwoPhaseSuccess(t *testing.T) {
	h, fl, dir := newTestProc(t, []fakeSession{
		{lines: []string{"This project is a CLI tool."}}, // INIT
		{lines: []string{"Edited two files."}},           // TASK
	})

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false: %s", resp.Summary)
	}
	if resp.Reason != ReasonCompleted {
		t.Errorf("Reason = %q, want %q", resp.Reason, ReasonCompleted)
	}
	if len(fl.launches) != 2 {
		t.Fatalf("launches = %d, want 2 (INIT then TASK)", len(fl.launches))
	}
	if got := promptOf(fl.launches[0]); got != initPromptText {
		t.Errorf("INIT prompt = %q, want the initialization prompt", got)
	}
	if got := promptOf(fl.launches[1]); got != "fix the parser" {
		t.Errorf("TASK prompt = %q, want the task prompt", got)
	}
	if resp.Metadata.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1 task launch", resp.Metadata.Iterations)
	}
}

func TestRunPermissionDeniedRelaunchesWithoutBypass(t *testing.T) {
	h, fl, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		{lines: []string{"Error: permission denied"}, exitCode: 1},
		{lines: []string{"done"}},
	})
	h.cfg.SkipPermissions = true

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false: %s", resp.Summary)
	}

	task := fl.taskLaunches()
	if len(task) != 2 {
		t.Fatalf("task launches = %d, want exactly 2", len(task))
	}
	if !hasArg(task[0], "--dangerously-skip-permissions") {
		t.Error("first task launch should carry the bypass flag")
	}
	if hasArg(task[1], "--dangerously-skip-permissions") {
		t.Error("second task launch should not carry the bypass flag")
	}
}

func TestRunFallsBackOnProcessNotFound(t *testing.T) {
	notFound := fmt.Errorf("%w: claude", errProcessNotFound)
	h, fl, dir := newTestProc(t, []fakeSession{
		{err: notFound}, // INIT, advisory
		{err: notFound}, // TASK on the primary command
		{lines: []string{"done"}},
	})

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false: %s", resp.Summary)
	}

	task := fl.taskLaunches()
	if len(task) != 2 {
		t.Fatalf("task launches = %d, want 2", len(task))
	}
	if task[0].argv[0] != "claude" {
		t.Errorf("first task command = %q, want claude", task[0].argv[0])
	}
	if task[1].argv[0] != "npx" {
		t.Errorf("fallback command = %q, want npx", task[1].argv[0])
	}
}

func TestRunModelUnavailableStripsModelArg(t *testing.T) {
	h, fl, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		{lines: []string{"API error: model not found"}, exitCode: 1},
		{lines: []string{"done"}},
	})

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false: %s", resp.Summary)
	}

	task := fl.taskLaunches()
	if !hasArg(task[0], "--model") {
		t.Error("first task launch should carry the model flag")
	}
	if hasArg(task[1], "--model") {
		t.Error("relaunch after model_unavailable should omit the model flag")
	}
}

func TestRunNoChangesRetryAppendsNudge(t *testing.T) {
	h, fl, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		{lines: []string{"I would change main.go like so..."}},
		{lines: []string{"Applied."}},
	})
	h.diff = &fakeDiff{known: true, answers: []bool{false, true}}

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the off-by-one"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false: %s", resp.Summary)
	}

	task := fl.taskLaunches()
	if len(task) != 2 {
		t.Fatalf("task launches = %d, want 2", len(task))
	}
	want := "fix the off-by-one\n\n" + applyChangesNudge
	if got := promptOf(task[1]); got != want {
		t.Errorf("relaunch prompt = %q, want %q", got, want)
	}
}

func TestRunNoChangesSkippedWithoutEditIntent(t *testing.T) {
	h, fl, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		{lines: []string{"The retry logic works as follows..."}},
	})
	h.diff = &fakeDiff{known: true, answers: []bool{false}}

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "explain the retry logic"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false: %s", resp.Summary)
	}
	if len(fl.taskLaunches()) != 1 {
		t.Errorf("task launches = %d, want 1 (informational prompt must not trigger the no-changes retry)", len(fl.taskLaunches()))
	}
}

func TestRunRetryDepthStrictlyBounded(t *testing.T) {
	denied := fakeSession{lines: []string{"Error: permission denied"}, exitCode: 1}
	noModel := fakeSession{lines: []string{"unknown model"}, exitCode: 1}
	h, fl, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		denied, noModel, denied, denied, denied,
	})
	h.cfg.MaxRetryDepth = 2

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Reason != ReasonFailed {
		t.Errorf("Reason = %q, want %q", resp.Reason, ReasonFailed)
	}
	if got := len(fl.taskLaunches()); got != 3 {
		t.Errorf("task launches = %d, want 3 (first launch plus 2 relaunches)", got)
	}
	if !strings.Contains(resp.Summary, "permission denied") {
		t.Errorf("Summary = %q, want the last diagnostic verbatim", resp.Summary)
	}
}

func TestRunRepeatedFailureKindFailsFast(t *testing.T) {
	denied := fakeSession{lines: []string{"Error: permission denied"}, exitCode: 1}
	h, fl, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		denied, denied,
	})
	h.cfg.MaxRetryDepth = 5

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if got := len(fl.taskLaunches()); got != 2 {
		t.Errorf("task launches = %d, want 2 (the permission fix is applied once, not toggled forever)", got)
	}
}

func TestRunMarkerRewrittenNotAppended(t *testing.T) {
	h, _, dir := newTestProc(t, nil) // every session succeeds silently

	if _, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "first prompt"}); err != nil {
		t.Fatalf("first Run error: %v", err)
	}
	if _, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "second prompt"}); err != nil {
		t.Fatalf("second Run error: %v", err)
	}

	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	marker := ws.ReadRunMarker(h.cfg.DataDir)
	if !strings.Contains(marker, "second prompt") {
		t.Errorf("marker = %q, want the most recent prompt", marker)
	}
	if strings.Contains(marker, "first prompt") {
		t.Errorf("marker = %q, must not accumulate earlier prompts", marker)
	}
}

func TestRunInterruptedDuringTask(t *testing.T) {
	h, _, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		{lines: []string{"working..."}, interrupted: true},
	})

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
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
}

func TestRunUnrecoverableInitLaunchFails(t *testing.T) {
	h, fl, dir := newTestProc(t, []fakeSession{
		{err: fmt.Errorf("failed to open stdout pipe: broken")},
	})

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Reason != ReasonFailed {
		t.Errorf("Reason = %q, want %q", resp.Reason, ReasonFailed)
	}
	if len(fl.launches) != 1 {
		t.Errorf("launches = %d, want 1 (no task phase after a fatal INIT failure)", len(fl.launches))
	}
}

func TestRunIdleTimeoutInTaskIsFatal(t *testing.T) {
	h, fl, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		{idleTimedOut: true},
	})

	resp, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if !strings.Contains(resp.Summary, "no output") {
		t.Errorf("Summary = %q, want an idle-timeout diagnostic", resp.Summary)
	}
	if len(fl.taskLaunches()) != 1 {
		t.Errorf("task launches = %d, want 1 (idle timeout is not retryable)", len(fl.taskLaunches()))
	}
}

func TestStreamCarriesDiagnosticTailOnFailure(t *testing.T) {
	h, _, dir := newTestProc(t, []fakeSession{
		{}, // INIT
		{lines: []string{"stack trace line 1", "stack trace line 2"}, exitCode: 1},
	})
	h.cfg.MaxRetryDepth = 0

	ch, err := h.Stream(context.Background(), Request{Workspace: dir, Prompt: "fix the parser"})
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
	if final.Success {
		t.Error("final Success = true, want false")
	}
	joined := strings.Join(texts, "\n")
	if !strings.Contains(joined, "stack trace line 2") {
		t.Errorf("stream output %q missing the failure diagnostic tail", joined)
	}
	if !strings.Contains(joined, "[hands] phase FAILED") {
		t.Errorf("stream output %q missing the terminal phase line", joined)
	}
}

func TestRunRefusesConcurrentRuns(t *testing.T) {
	h, _, dir := newTestProc(t, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	h.launcher = &blockingLauncher{started: started, release: release}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.Run(context.Background(), Request{Workspace: dir, Prompt: "first"})
	}()
	<-started

	if _, err := h.Run(context.Background(), Request{Workspace: dir, Prompt: "second"}); err == nil {
		t.Error("second concurrent Run should be refused")
	}
	close(release)
	<-done
}

// blockingLauncher parks the first launch until released, so a test can
// overlap a second run attempt.
type blockingLauncher struct {
	started chan struct{}
	release chan struct{}
	once    bool
}

func (b *blockingLauncher) launch(_ context.Context, _ launchSpec, _ *interrupter, _ func(string)) (sessionResult, error) {
	if !b.once {
		b.once = true
		close(b.started)
		<-b.release
	}
	return sessionResult{}, nil
}
