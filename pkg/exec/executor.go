// Package exec provides command execution abstractions with support for local
// and Docker-based execution. Tool commands, git operations, and containerized
// agent launches all run through the Executor interface.
package exec

import (
	"context"
	"time"
)

// ExecutorType identifies an executor implementation.
type ExecutorType string

// Executor type constants.
const (
	ExecutorTypeLocal  ExecutorType = "local"
	ExecutorTypeDocker ExecutorType = "docker"
)

// Executor defines the interface for executing commands in different environments.
type Executor interface {
	// Run executes a command with the given options and returns the result.
	// A non-zero exit code is reported via Result.ExitCode, not as an error;
	// errors mean the command could not be run at all.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Name returns the executor type for logging and selection.
	Name() ExecutorType

	// Available returns true if this executor can be used in the current environment.
	Available() bool
}

// Opts contains options for command execution.
//
//nolint:govet // Configuration struct, logical grouping preferred
type Opts struct {
	// Env contains additional environment variables (KEY=VALUE format).
	Env []string

	// ResourceLimits contains resource constraints (container executors only).
	ResourceLimits *ResourceLimits

	// Timeout is the maximum duration for command execution.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string

	// User is the user to run the command as (container executors only).
	User string

	// ReadOnly mounts the container root filesystem read-only.
	ReadOnly bool

	// NetworkDisabled disables network access inside the container.
	NetworkDisabled bool
}

// ResourceLimits defines resource constraints for command execution.
type ResourceLimits struct {
	// CPUs is the number of CPU cores to allocate (e.g. "2" or "1.5").
	CPUs string

	// Memory is the memory limit (e.g. "2g", "512m").
	Memory string

	// PIDs is the maximum number of processes/threads.
	PIDs int64
}

// Result contains the result of command execution.
type Result struct {
	// Stdout contains the standard output.
	Stdout string

	// Stderr contains the standard error output.
	Stderr string

	// ExecutorUsed indicates which executor ran the command.
	ExecutorUsed ExecutorType

	// Duration is how long the command took to execute.
	Duration time.Duration

	// ExitCode is the exit code of the command.
	ExitCode int
}

// DefaultOpts returns default execution options.
func DefaultOpts() *Opts {
	return &Opts{
		Timeout:         5 * time.Minute,
		ReadOnly:        false,
		NetworkDisabled: false,
		ResourceLimits: &ResourceLimits{
			CPUs:   "2",
			Memory: "2g",
			PIDs:   1024,
		},
	}
}
