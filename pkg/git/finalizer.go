package git

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FinalizeOptions controls how a successful run's changes are published.
type FinalizeOptions struct {
	// BranchPrefix plus the run ID forms the result branch name.
	BranchPrefix string

	// TargetBranch is the base for a pull request.
	TargetBranch string

	// CommitMessage for the result commit. Empty falls back to a summary
	// derived from the run ID.
	CommitMessage string

	// RunID identifies the run, used in branch name and default message.
	RunID string

	// Push pushes the result branch to origin.
	Push bool

	// CreatePR opens a pull request after pushing.
	CreatePR bool
}

// FinalizeResult describes what finalization produced.
type FinalizeResult struct {
	// Branch holds the result branch name, empty when nothing was committed.
	Branch string

	// Commit is the result commit SHA.
	Commit string

	// PRURL is the created pull request, when requested.
	PRURL string

	// Committed reports whether a commit was made.
	Committed bool

	// Pushed reports whether the branch reached origin.
	Pushed bool
}

// Finalize publishes the work tree's changes on a fresh branch. With no
// changes present it returns an empty result rather than an error, so a run
// that legitimately produced nothing still finalizes cleanly. Push and PR
// failures degrade to a local commit instead of failing the run.
func (r *Repo) Finalize(ctx context.Context, opts FinalizeOptions) (*FinalizeResult, error) {
	result := &FinalizeResult{}

	if !r.IsRepo(ctx) {
		r.logger.Debug("workspace is not a git repository, skipping finalization")
		return result, nil
	}

	changed, err := r.HasChanges(ctx)
	if err != nil {
		return nil, err
	}
	if !changed {
		r.logger.Info("no changes to finalize")
		return result, nil
	}

	branch := opts.BranchPrefix + branchToken(opts.RunID)
	if err := r.CheckoutNewBranch(ctx, branch); err != nil {
		return nil, err
	}
	result.Branch = branch

	if err := r.AddAll(ctx); err != nil {
		return nil, err
	}

	message := opts.CommitMessage
	if message == "" {
		message = fmt.Sprintf("Apply changes from run %s", opts.RunID)
	}
	if err := r.Commit(ctx, message); err != nil {
		return nil, err
	}
	result.Committed = true

	if commit, err := r.HeadCommit(ctx); err == nil {
		result.Commit = commit
	}

	if !opts.Push {
		return result, nil
	}

	if err := r.Push(ctx, branch); err != nil {
		r.logger.Warn("push failed, changes remain on local branch %s: %v", branch, err)
		return result, nil
	}
	result.Pushed = true

	if opts.CreatePR {
		gh := NewGHClient(r.dir)
		if err := gh.CheckAuth(ctx); err != nil {
			r.logger.Warn("gh is not authenticated, skipping pull request: %v", err)
			return result, nil
		}
		if origin, err := r.run(ctx, "remote", "get-url", "origin"); err == nil {
			if owner, repo, perr := ParseGitHubURL(origin); perr == nil {
				r.logger.Info("opening pull request against %s/%s", owner, repo)
			}
		}
		pr, err := gh.CreatePR(ctx, PRCreateOptions{
			Title: message,
			Body:  fmt.Sprintf("Automated changes from run %s.", opts.RunID),
			Head:  branch,
			Base:  opts.TargetBranch,
		})
		if err != nil {
			r.logger.Warn("pull request creation failed: %v", err)
			return result, nil
		}
		result.PRURL = pr.URL
	}

	return result, nil
}

// branchToken turns a run ID into a branch-safe token.
func branchToken(runID string) string {
	token := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, runID)
	token = strings.Trim(token, "-")
	if token == "" {
		token = fmt.Sprintf("run-%d", time.Now().Unix())
	}
	return token
}
