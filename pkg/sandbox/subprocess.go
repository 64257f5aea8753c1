package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modgen/pkg/logx"
)

// SubprocessSession runs code with a local interpreter in a throwaway
// working directory. No container isolation; intended for development and
// trusted environments.
type SubprocessSession struct {
	opts    Opts
	logger  *logx.Logger
	workDir string
	mu      sync.Mutex
	closed  bool
}

// NewSubprocessSession creates a subprocess-backed session. The working
// directory is created lazily on first use.
func NewSubprocessSession(opts Opts) *SubprocessSession {
	if opts.Interpreter == "" {
		opts.Interpreter = DefaultOpts().Interpreter
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOpts().Timeout
	}
	return &SubprocessSession{
		opts:   opts,
		logger: logx.NewLogger("sandbox"),
	}
}

// Backend returns the session implementation name.
func (s *SubprocessSession) Backend() Backend {
	return BackendSubprocess
}

// RunCode writes the payload to a script in the session workdir and runs it
// with the configured interpreter.
func (s *SubprocessSession) RunCode(ctx context.Context, code string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Result{}, fmt.Errorf("session already closed")
	}
	if err := s.ensureWorkDir(); err != nil {
		return Result{}, err
	}

	scriptPath := filepath.Join(s.workDir, "main.py")
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write code payload: %w", err)
	}

	return s.execute(ctx, []string{s.opts.Interpreter, scriptPath})
}

// RunCommand executes a shell command in the session workdir.
func (s *SubprocessSession) RunCommand(ctx context.Context, command string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Result{}, fmt.Errorf("session already closed")
	}
	if err := s.ensureWorkDir(); err != nil {
		return Result{}, err
	}

	return s.execute(ctx, []string{"sh", "-c", command})
}

// Close removes the session workdir. Idempotent.
func (s *SubprocessSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.workDir == "" {
		return nil
	}
	s.logger.Debug("Removing session workdir %s", s.workDir)
	if err := os.RemoveAll(s.workDir); err != nil {
		return fmt.Errorf("failed to remove session workdir: %w", err)
	}
	s.workDir = ""
	return nil
}

func (s *SubprocessSession) ensureWorkDir() error {
	if s.workDir != "" {
		return nil
	}
	dir, err := os.MkdirTemp("", "modgen-sandbox-")
	if err != nil {
		return fmt.Errorf("failed to create session workdir: %w", err)
	}
	s.workDir = dir
	s.logger.Debug("Created session workdir %s", dir)
	return nil
}

func (s *SubprocessSession) execute(ctx context.Context, argv []string) (Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.workDir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// Non-zero exit is an execution outcome, not a transport fault.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}
	return result, nil
}
