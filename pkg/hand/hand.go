// Package hand implements the execution engine that drives one AI-assisted
// editing run against a repository workspace. A Hand is one backend behind a
// common contract: the native backend runs an in-process model loop that
// parses directives out of model text and executes them; the CLI backends
// supervise an external coding-agent process through an initialization phase
// and a task phase with per-backend retry policy.
package hand

import (
	"context"

	"github.com/google/uuid"
)

// Request describes one run. It is read-only to the engine.
//
//nolint:govet // Request struct, logical grouping preferred
type Request struct {
	// Workspace is the repository checkout the run operates on.
	Workspace string

	// Prompt is the natural-language task.
	Prompt string

	// RunID identifies the run in records and branch names. Empty generates
	// a fresh one.
	RunID string

	// Resume optionally names an earlier run or pull request to continue.
	Resume string

	// MaxIterations overrides the configured iteration budget when positive.
	// Only the native backend consumes it.
	MaxIterations int

	// Capabilities overrides the configured tool-capability set when
	// non-empty. Only the native backend consumes it.
	Capabilities []string

	// Finalize publishes changes (branch, commit, optionally push and PR)
	// after a successful run.
	Finalize bool
}

// Reason codes attached to every terminal response.
const (
	ReasonSatisfied       = "satisfied"
	ReasonCompleted       = "completed"
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonInterrupted     = "interrupted"
	ReasonFailed          = "failed"
)

// Metadata is the structured portion of a response.
//
//nolint:govet // Metadata struct, logical grouping preferred
type Metadata struct {
	RunID        string
	Backend      string
	Model        string
	Iterations   int
	FilesChanged []string
	Interrupted  bool
	Branch       string
	PRURL        string
}

// Response is the engine's output contract: a success flag, a one-paragraph
// human-readable summary, a machine-readable reason code, and structured
// metadata.
//
//nolint:govet // Response struct, logical grouping preferred
type Response struct {
	Success  bool
	Summary  string
	Reason   string
	Metadata Metadata
}

// Chunk is one streamed fragment of a run. Final is nil on intermediate
// chunks and carries the terminal response on the last chunk before the
// channel closes.
type Chunk struct {
	Text  string
	Final *Response
}

// Hand executes runs. Implementations are safe for Interrupt from another
// goroutine but execute at most one run at a time.
type Hand interface {
	// Run executes one run synchronously to its terminal state. Expected
	// failures (budget exhaustion, retry exhaustion, interruption) are
	// reported in the Response; only unexpected conditions such as an
	// inaccessible workspace return an error, and finalization is skipped
	// in that case.
	Run(ctx context.Context, req Request) (*Response, error)

	// Stream executes one run, emitting output fragments as they become
	// available. The last chunk carries the terminal response, then the
	// channel closes. A consumer stopping early should call Interrupt and
	// drain the channel. Streams are not resumable; a new call starts a
	// fresh run.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// Interrupt requests cooperative cancellation of the active run. The
	// run observes the request at its next suspension point: a turn
	// boundary for the native loop, a line or phase boundary for the
	// process supervisor.
	Interrupt()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run-" + uuid.NewString()[:8]
}
