package git

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
)

// GHClient runs GitHub operations via the gh CLI from inside a repository
// directory, so the repo is inferred from the origin remote. gh runs on the
// host even for containerized runs since these are pure API calls.
type GHClient struct {
	logger  *logx.Logger
	dir     string
	timeout time.Duration
}

// NewGHClient creates a client operating in the given repo directory.
func NewGHClient(dir string) *GHClient {
	return &GHClient{
		logger:  logx.NewLogger("github"),
		dir:     dir,
		timeout: 2 * time.Minute,
	}
}

// PullRequest represents a GitHub pull request. Field names match gh CLI
// --json output.
type PullRequest struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	State       string `json:"state"` // OPEN, CLOSED, MERGED
	HeadRefName string `json:"headRefName"`
	BaseRefName string `json:"baseRefName"`
	Number      int    `json:"number"`
}

// PRCreateOptions contains options for creating a pull request.
type PRCreateOptions struct {
	Title string
	Body  string
	Head  string // Source branch
	Base  string // Target branch (default: main)
	Draft bool
}

// CreatePR creates a pull request for the current repository.
func (c *GHClient) CreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error) {
	if opts.Head == "" {
		return nil, fmt.Errorf("head branch is required")
	}
	if opts.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	base := opts.Base
	if base == "" {
		base = "main"
	}

	args := []string{
		"pr", "create",
		"--title", opts.Title,
		"--head", opts.Head,
		"--base", base,
	}
	if opts.Body != "" {
		args = append(args, "--body", opts.Body)
	}
	if opts.Draft {
		args = append(args, "--draft")
	}

	// gh pr create prints the PR URL on success.
	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PR: %w", err)
	}

	prURL := strings.TrimSpace(string(output))
	if prURL == "" {
		return nil, fmt.Errorf("PR created but no URL returned")
	}

	pr, err := c.ViewPR(ctx, prURL)
	if err != nil {
		// The PR exists even if the follow-up view failed.
		return &PullRequest{URL: prURL, Title: opts.Title, HeadRefName: opts.Head, BaseRefName: base}, nil
	}
	return pr, nil
}

// ViewPR fetches a pull request by number, branch, or URL.
func (c *GHClient) ViewPR(ctx context.Context, ref string) (*PullRequest, error) {
	args := []string{
		"pr", "view", ref,
		"--json", "number,url,title,state,headRefName,baseRefName",
	}

	var pr PullRequest
	if err := c.runJSON(ctx, &pr, args...); err != nil {
		return nil, fmt.Errorf("failed to view PR %s: %w", ref, err)
	}
	return &pr, nil
}

// CheckAuth verifies that the gh CLI is authenticated.
func (c *GHClient) CheckAuth(ctx context.Context) error {
	if _, err := c.run(ctx, "auth", "status"); err != nil {
		return fmt.Errorf("gh auth check failed: %w", err)
	}
	return nil
}

// run executes a gh command in the repo directory and returns the output.
func (c *GHClient) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("executing: gh %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = c.dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Debug("gh command failed: %v, output: %s", err, string(output))
		return nil, fmt.Errorf("gh command failed: %w\nOutput: %s", err, string(output))
	}

	return output, nil
}

// runJSON executes a gh command and unmarshals the JSON response.
func (c *GHClient) runJSON(ctx context.Context, result interface{}, args ...string) error {
	output, err := c.run(ctx, args...)
	if err != nil {
		return err
	}
	if len(output) == 0 {
		return nil
	}
	if err := json.Unmarshal(output, result); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w\nOutput: %s", err, string(output))
	}
	return nil
}

// ParseGitHubURL extracts owner and repo from SSH or HTTPS GitHub URLs.
func ParseGitHubURL(url string) (owner, repo string, err error) {
	if strings.HasPrefix(url, "git@github.com:") {
		path := strings.TrimPrefix(url, "git@github.com:")
		path = strings.TrimSuffix(path, ".git")
		parts := strings.Split(path, "/")
		if len(parts) != 2 {
			return "", "", fmt.Errorf("invalid GitHub SSH URL format: %s", url)
		}
		return parts[0], parts[1], nil
	}

	if strings.HasPrefix(url, "https://github.com/") {
		path := strings.TrimPrefix(url, "https://github.com/")
		path = strings.TrimSuffix(path, ".git")
		parts := strings.Split(path, "/")
		if len(parts) != 2 {
			return "", "", fmt.Errorf("invalid GitHub HTTPS URL format: %s", url)
		}
		return parts[0], parts[1], nil
	}

	return "", "", fmt.Errorf("unsupported Git URL format: %s", url)
}
