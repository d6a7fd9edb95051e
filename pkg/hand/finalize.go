package hand

import (
	"context"
	"strings"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/git"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
)

// Finalizer publishes a successful run's workspace changes. It is invoked at
// most once per run, after the backend's work completes and before the
// response is returned.
type Finalizer interface {
	// Finalize commits the workspace changes for runID on a fresh branch.
	// message seeds the commit message. Returned branch and prURL are empty
	// when nothing was committed.
	Finalize(ctx context.Context, dir, runID, message string) (branch, prURL string, err error)
}

// GitFinalizer publishes changes through the git collaborator: branch,
// commit, then optionally push and pull request per configuration.
type GitFinalizer struct {
	cfg config.GitConfig
}

// NewGitFinalizer builds a finalizer from the git configuration.
func NewGitFinalizer(cfg config.GitConfig) *GitFinalizer {
	return &GitFinalizer{cfg: cfg}
}

// Finalize implements Finalizer.
func (f *GitFinalizer) Finalize(ctx context.Context, dir, runID, message string) (string, string, error) {
	repo := git.NewRepo(dir, nil)
	result, err := repo.Finalize(ctx, git.FinalizeOptions{
		BranchPrefix:  f.cfg.BranchPrefix,
		TargetBranch:  f.cfg.TargetBranch,
		CommitMessage: commitSubject(message),
		RunID:         runID,
		Push:          f.cfg.Push,
		CreatePR:      f.cfg.CreatePR,
	})
	if err != nil {
		return "", "", err
	}
	return result.Branch, result.PRURL, nil
}

// commitSubject derives a one-line commit subject from the task prompt.
func commitSubject(prompt string) string {
	line := strings.TrimSpace(prompt)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	const maxSubject = 72
	if len(line) > maxSubject {
		line = strings.TrimSpace(line[:maxSubject-3]) + "..."
	}
	return line
}

// finalizeRun runs the finalizer for a successful response and records the
// branch and PR in its metadata. Finalization failures degrade to a warning;
// the edits are already in the workspace and the run stays successful.
func finalizeRun(ctx context.Context, fin Finalizer, dir, prompt string, resp *Response, logger *logx.Logger) {
	if fin == nil || !resp.Success {
		return
	}
	branch, prURL, err := fin.Finalize(ctx, dir, resp.Metadata.RunID, prompt)
	if err != nil {
		logger.Warn("finalization failed, changes remain uncommitted: %v", err)
		return
	}
	resp.Metadata.Branch = branch
	resp.Metadata.PRURL = prURL
}
