package hand

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/suryarastogi/helping-hands-sub000/pkg/exec"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
)

const (
	// gracePeriod is how long a signaled process gets to exit before it is
	// killed.
	gracePeriod = 5 * time.Second

	// lastOutputLines bounds the diagnostic tail kept from a session.
	lastOutputLines = 20

	// heartbeatLine is the synthetic progress line emitted while the
	// process is silent.
	heartbeatLine = "[hands] still running..."
)

// errProcessNotFound marks a launch whose executable does not exist.
var errProcessNotFound = errors.New("process not found")

// launchSpec is one concrete process invocation.
//
//nolint:govet // Spec struct, logical grouping preferred
type launchSpec struct {
	argv []string
	dir  string
	env  []string // additions on top of the parent environment
}

// sessionResult reports how a supervised process ended. A non-zero exit is
// not an error; launch failures are.
//
//nolint:govet // Result struct, logical grouping preferred
type sessionResult struct {
	exitCode     int
	interrupted  bool
	idleTimedOut bool
	lastOutput   []string
	duration     time.Duration
}

// launcher abstracts one external process launch so the supervisor's retry
// tree is testable without spawning real CLIs.
type launcher interface {
	launch(ctx context.Context, spec launchSpec, intr *interrupter, onLine func(string)) (sessionResult, error)
}

// processLauncher runs the external agent, directly or wrapped in a
// container, streaming its output line by line. An idle timer terminates a
// silent process; a heartbeat keeps stream consumers informed meanwhile.
// Both reset on every output line.
type processLauncher struct {
	logger      *logx.Logger
	docker      *exec.DockerExec // non-nil wraps launches in a container
	idleTimeout time.Duration
	heartbeat   time.Duration
}

func (p *processLauncher) launch(ctx context.Context, spec launchSpec, intr *interrupter, onLine func(string)) (sessionResult, error) {
	start := time.Now()
	var result sessionResult

	argv := spec.argv
	if p.docker != nil {
		containerName := fmt.Sprintf("hands-run-%d", time.Now().UnixNano())
		opts := exec.DefaultOpts()
		opts.WorkDir = spec.dir
		opts.Env = spec.env
		wrapped, err := p.docker.BuildRunArgs(containerName, argv, opts)
		if err != nil {
			return result, logx.Wrap(err, "failed to build container invocation")
		}
		defer p.docker.CleanupContainer(containerName)
		argv = append([]string{p.docker.Binary()}, wrapped...)
		p.logger.Info("launch wrapped in %s container (image %s)", p.docker.Binary(), p.docker.Image())
	}

	cmd := osexec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.dir
	cmd.Env = append(os.Environ(), spec.env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, logx.Wrap(err, "failed to open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return result, logx.Wrap(err, "failed to open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, osexec.ErrNotFound) {
			return result, fmt.Errorf("%w: %s", errProcessNotFound, argv[0])
		}
		return result, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	p.logger.Info("launched %s (pid %d)", argv[0], cmd.Process.Pid)

	lines := make(chan string, 64)
	var scanners sync.WaitGroup
	scanners.Add(2)
	go scanLines(stdout, lines, &scanners)
	go scanLines(stderr, lines, &scanners)
	go func() {
		scanners.Wait()
		close(lines)
	}()

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()
	heartbeat := time.NewTicker(p.heartbeat)
	defer heartbeat.Stop()

	// killTimer is armed when the process is asked to terminate; firing
	// escalates to SIGKILL.
	var killTimer *time.Timer
	defer func() {
		if killTimer != nil {
			killTimer.Stop()
		}
	}()
	killC := func() <-chan time.Time {
		if killTimer == nil {
			return nil
		}
		return killTimer.C
	}
	terminate := func() {
		if killTimer != nil {
			return
		}
		p.signal(cmd, syscall.SIGTERM)
		killTimer = time.NewTimer(gracePeriod)
	}

	intrDone := intr.done()
	ctxDone := ctx.Done()

drain:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break drain
			}
			result.lastOutput = appendBounded(result.lastOutput, line, lastOutputLines)
			if onLine != nil {
				onLine(line)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)
			heartbeat.Reset(p.heartbeat)

		case <-idle.C:
			if !result.idleTimedOut && !result.interrupted {
				result.idleTimedOut = true
				p.logger.Warn("no output for %s, terminating process", p.idleTimeout)
				terminate()
			}

		case <-heartbeat.C:
			if onLine != nil {
				onLine(heartbeatLine)
			}

		case <-intrDone:
			intrDone = nil
			result.interrupted = true
			terminate()

		case <-ctxDone:
			ctxDone = nil
			result.interrupted = true
			terminate()

		case <-killC():
			p.logger.Warn("grace period expired, killing process")
			p.signal(cmd, syscall.SIGKILL)
			killTimer.Stop()
			killTimer = nil
		}
	}

	waitErr := cmd.Wait()
	result.duration = time.Since(start)
	if waitErr != nil {
		var exitErr *osexec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("process wait failed: %w", waitErr)
		}
		result.exitCode = exitErr.ExitCode()
	}

	p.logger.Debug("process exited with code %d after %s", result.exitCode, result.duration.Round(time.Millisecond))
	return result, nil
}

func (p *processLauncher) signal(cmd *osexec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(sig); err != nil {
		p.logger.Debug("signal %v failed: %v", sig, err)
	}
}

func scanLines(r io.Reader, lines chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func appendBounded(buf []string, line string, limit int) []string {
	buf = append(buf, line)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}
