// Package git provides repository operations for run finalization: change
// detection, branch/commit/push, and pull-request creation via the gh CLI.
// Commands run through the exec layer so containerized runs behave the same
// as local ones.
package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/exec"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
)

// Repo wraps git operations in a single working directory.
type Repo struct {
	executor exec.Executor
	logger   *logx.Logger
	dir      string
}

// NewRepo creates a Repo for the given directory. A nil executor defaults to
// local execution.
func NewRepo(dir string, executor exec.Executor) *Repo {
	if executor == nil {
		executor = exec.NewLocalExec()
	}
	return &Repo{
		executor: executor,
		logger:   logx.NewLogger("git"),
		dir:      dir,
	}
}

// Dir returns the repository working directory.
func (r *Repo) Dir() string {
	return r.dir
}

// run executes a git subcommand in the repo directory and returns trimmed
// stdout. Non-zero exits become errors carrying stderr for diagnostics.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	opts := exec.DefaultOpts()
	opts.WorkDir = r.dir
	opts.Timeout = 2 * time.Minute

	cmd := append([]string{"git"}, args...)
	result, err := r.executor.Run(ctx, cmd, opts)
	if err != nil {
		return "", fmt.Errorf("git %s failed to run: %w", args[0], err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git %s exited %d: %s", args[0], result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// IsRepo reports whether the directory is inside a git work tree.
func (r *Repo) IsRepo(ctx context.Context) bool {
	out, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// HasChanges reports whether the work tree has uncommitted changes, including
// untracked files.
func (r *Repo) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check for changes: %w", err)
	}
	return out != "", nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return out, nil
}

// HeadCommit returns the current HEAD commit SHA.
func (r *Repo) HeadCommit(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	return out, nil
}

// CheckoutNewBranch creates and switches to a new branch.
func (r *Repo) CheckoutNewBranch(ctx context.Context, name string) error {
	if _, err := r.run(ctx, "checkout", "-b", name); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	return nil
}

// AddAll stages every change in the work tree.
func (r *Repo) AddAll(ctx context.Context) error {
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	return nil
}

// Commit records the staged changes.
func (r *Repo) Commit(ctx context.Context, message string) error {
	if _, err := r.run(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Push pushes the branch to origin, setting upstream.
func (r *Repo) Push(ctx context.Context, branch string) error {
	if _, err := r.run(ctx, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("failed to push %s: %w", branch, err)
	}
	return nil
}
