// Package sandbox provides isolated execution sessions for generated code.
//
// A Session is owned by a single pipeline run and reused across retries
// within that run. Release is the controller's responsibility; Close is
// idempotent so teardown is safe on every exit path.
package sandbox

import (
	"context"
	"time"
)

// Backend identifies a session implementation.
type Backend string

const (
	BackendSubprocess Backend = "subprocess"
	BackendDocker     Backend = "docker"
)

// Result contains the outcome of executing code or a command in a session.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Session is an isolated interpreter environment.
type Session interface {
	// RunCode executes a code payload in the session's interpreter and
	// returns captured output. A non-zero exit is reported through the
	// Result, not the error; the error is reserved for transport faults
	// (session unavailable, interpreter missing).
	RunCode(ctx context.Context, code string) (Result, error)

	// RunCommand executes a shell command in the session, for install and
	// setup steps before code execution.
	RunCommand(ctx context.Context, command string) (Result, error)

	// Backend returns the session implementation name for logging.
	Backend() Backend

	// Close releases the session's resources. Safe to call more than once
	// and safe to call if the session never started.
	Close() error
}

// Opts configures a session.
type Opts struct {
	// Interpreter is the program used for RunCode (e.g. "python3").
	Interpreter string

	// Image is the container image for the Docker backend.
	Image string

	// Timeout bounds each RunCode/RunCommand invocation.
	Timeout time.Duration

	// Memory is the container memory limit (e.g. "512m"), Docker only.
	Memory string

	// CPUs is the CPU allocation (e.g. "1"), Docker only.
	CPUs string

	// NetworkDisabled turns off network access, Docker only.
	NetworkDisabled bool
}

// DefaultOpts returns session defaults suitable for short test programs.
func DefaultOpts() Opts {
	return Opts{
		Interpreter:     "python3",
		Image:           "python:3.12-alpine",
		Timeout:         2 * time.Minute,
		Memory:          "512m",
		CPUs:            "1",
		NetworkDisabled: true,
	}
}

// New creates a session for the requested backend.
func New(backend Backend, opts Opts) Session {
	if backend == BackendDocker {
		return NewDockerSession(opts)
	}
	return NewSubprocessSession(opts)
}
