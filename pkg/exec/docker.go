package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
)

// DockerExec implements the Executor interface using Docker containers.
type DockerExec struct {
	logger            *logx.Logger
	runningContainers map[string]*exec.Cmd
	image             string
	dockerCmd         string
	containerPrefix   string
	mu                sync.RWMutex
}

// NewDockerExec creates a new Docker executor for the given image.
func NewDockerExec(image string) *DockerExec {
	return &DockerExec{
		logger:            logx.NewLogger("docker-exec"),
		image:             image,
		dockerCmd:         detectDockerCommand(),
		containerPrefix:   "hands-exec-",
		runningContainers: make(map[string]*exec.Cmd),
	}
}

// detectDockerCommand prefers docker, falling back to podman when only podman exists.
func detectDockerCommand() string {
	if _, err := exec.LookPath("docker"); err == nil {
		return "docker"
	}
	if _, err := exec.LookPath("podman"); err == nil {
		return "podman"
	}
	return "docker"
}

// Name returns the executor type.
func (d *DockerExec) Name() ExecutorType {
	return ExecutorTypeDocker
}

// Binary returns the container runtime command (docker or podman).
func (d *DockerExec) Binary() string {
	return d.dockerCmd
}

// Image returns the container image being used.
func (d *DockerExec) Image() string {
	return d.image
}

// Available checks if the container runtime exists and the daemon responds.
func (d *DockerExec) Available() bool {
	if _, err := exec.LookPath(d.dockerCmd); err != nil {
		d.logger.Debug("container runtime not found: %v", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.dockerCmd, "ps", "-q")
	if err := cmd.Run(); err != nil {
		d.logger.Debug("container daemon not available: %v", err)
		return false
	}

	return true
}

// Run executes a command in a fresh container.
func (d *DockerExec) Run(ctx context.Context, cmd []string, opts *Opts) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, fmt.Errorf("command cannot be empty")
	}
	if opts == nil {
		opts = DefaultOpts()
	}

	start := time.Now()
	containerName := d.generateContainerName()

	dockerArgs, err := d.BuildRunArgs(containerName, cmd, opts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build container args: %w", err)
	}

	execCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	dockerCmd := exec.CommandContext(execCtx, d.dockerCmd, dockerArgs...)

	d.mu.Lock()
	d.runningContainers[containerName] = dockerCmd
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.runningContainers, containerName)
		d.mu.Unlock()
		d.CleanupContainer(containerName)
	}()

	var stdout, stderr strings.Builder
	dockerCmd.Stdout = &stdout
	dockerCmd.Stderr = &stderr

	d.logger.Debug("running: %s", strings.Join(dockerCmd.Args, " "))
	runErr := dockerCmd.Run()

	result := Result{
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		ExecutorUsed: d.Name(),
		Duration:     time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// docker run propagates the container command's exit code.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("container command failed to run: %w", runErr)
	}

	return result, nil
}

// generateContainerName creates a unique container name.
func (d *DockerExec) generateContainerName() string {
	return fmt.Sprintf("%s%d", d.containerPrefix, time.Now().UnixNano())
}

// BuildRunArgs constructs the `docker run` argument list for a command. It is
// exported so process supervisors can wrap long-running agent invocations in a
// container while keeping their own stdout/stderr streaming.
func (d *DockerExec) BuildRunArgs(containerName string, cmd []string, opts *Opts) ([]string, error) {
	args := []string{"run", "--rm", "--name", containerName}

	args = append(args, "--security-opt", "no-new-privileges")

	if opts.ReadOnly {
		args = append(args, "--read-only")
	}

	if opts.NetworkDisabled {
		args = append(args, "--network", "none")
	}

	if opts.ResourceLimits != nil {
		if opts.ResourceLimits.CPUs != "" {
			args = append(args, "--cpus", opts.ResourceLimits.CPUs)
		}
		if opts.ResourceLimits.Memory != "" {
			args = append(args, "--memory", opts.ResourceLimits.Memory)
		}
		if opts.ResourceLimits.PIDs > 0 {
			args = append(args, "--pids-limit", strconv.FormatInt(opts.ResourceLimits.PIDs, 10))
		}
	}

	if opts.User != "" {
		args = append(args, "--user", opts.User)
	} else {
		// Rootless execution under the invoking user.
		args = append(args, "--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()))
	}

	if opts.WorkDir != "" {
		absWorkDir, err := filepath.Abs(opts.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}

		// The workspace mount stays read-write even when the root
		// filesystem is read-only; opts.ReadOnly covers the rootfs only.
		hostPath := normalizeHostPath(absWorkDir)
		args = append(args, "--volume", fmt.Sprintf("%s:%s:rw", hostPath, containerWorkspaceDir))
		args = append(args, "--workdir", containerWorkspaceDir)
	}

	args = append(args, "--tmpfs", "/tmp:exec,nodev,nosuid,size=100m")
	args = append(args, "--tmpfs", "/home:exec,nodev,nosuid,size=100m")

	for _, env := range opts.Env {
		args = append(args, "--env", env)
	}

	args = append(args, d.image)
	args = append(args, cmd...)

	return args, nil
}

// containerWorkspaceDir is where the host working directory is mounted.
const containerWorkspaceDir = "/workspace"

// normalizeHostPath handles cross-platform path mapping for Docker Desktop.
func normalizeHostPath(path string) string {
	if runtime.GOOS == "windows" {
		// Convert C:\path\to\dir to /c/path/to/dir.
		if len(path) > 2 && path[1] == ':' {
			drive := strings.ToLower(string(path[0]))
			rest := strings.ReplaceAll(path[2:], "\\", "/")
			return "/" + drive + rest
		}
	}
	return path
}

// CleanupContainer stops and removes a container if it is still around.
func (d *DockerExec) CleanupContainer(containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopCmd := exec.CommandContext(ctx, d.dockerCmd, "stop", containerName)
	if err := stopCmd.Run(); err != nil {
		d.logger.Debug("failed to stop container %s: %v", containerName, err)
	}

	rmCmd := exec.CommandContext(ctx, d.dockerCmd, "rm", "-f", containerName)
	if err := rmCmd.Run(); err != nil {
		d.logger.Debug("failed to remove container %s: %v", containerName, err)
	}
}

// Shutdown stops all containers this executor started.
func (d *DockerExec) Shutdown(ctx context.Context) error {
	d.mu.RLock()
	containers := make([]string, 0, len(d.runningContainers))
	for name := range d.runningContainers {
		containers = append(containers, name)
	}
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, containerName := range containers {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			d.CleanupContainer(name)
		}(containerName)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
