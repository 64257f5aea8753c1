package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"modgen/pkg/logx"
)

const (
	dockerCommand = "docker"
	podmanCommand = "podman"
)

// DockerSession runs code inside a long-lived container that persists for
// the duration of a run, so interpreter startup and installed dependencies
// are shared across retries.
type DockerSession struct {
	opts          Opts
	logger        *logx.Logger
	dockerCmd     string
	containerName string
	mu            sync.Mutex
	started       bool
	closed        bool
}

// NewDockerSession creates a Docker-backed session. The container is started
// lazily on first use.
func NewDockerSession(opts Opts) *DockerSession {
	defaults := DefaultOpts()
	if opts.Interpreter == "" {
		opts.Interpreter = defaults.Interpreter
	}
	if opts.Image == "" {
		opts.Image = defaults.Image
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}

	// Prefer docker, fall back to podman when only podman is installed.
	dockerCmd := dockerCommand
	if _, err := exec.LookPath(podmanCommand); err == nil {
		if _, err := exec.LookPath(dockerCommand); err != nil {
			dockerCmd = podmanCommand
		}
	}

	return &DockerSession{
		opts:          opts,
		logger:        logx.NewLogger("sandbox"),
		dockerCmd:     dockerCmd,
		containerName: "modgen-run-" + uuid.NewString()[:8],
	}
}

// Backend returns the session implementation name.
func (d *DockerSession) Backend() Backend {
	return BackendDocker
}

// Available checks that the container runtime exists and its daemon responds.
func (d *DockerSession) Available() bool {
	if _, err := exec.LookPath(d.dockerCmd); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, d.dockerCmd, "ps", "-q").Run() == nil
}

// RunCode pipes the payload into the container's interpreter over stdin.
func (d *DockerSession) RunCode(ctx context.Context, code string) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Result{}, fmt.Errorf("session already closed")
	}
	if err := d.ensureContainer(ctx); err != nil {
		return Result{}, err
	}

	args := []string{"exec", "-i", d.containerName, d.opts.Interpreter, "-"}
	return d.execute(ctx, args, code)
}

// RunCommand executes a shell command inside the container.
func (d *DockerSession) RunCommand(ctx context.Context, command string) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Result{}, fmt.Errorf("session already closed")
	}
	if err := d.ensureContainer(ctx); err != nil {
		return Result{}, err
	}

	args := []string{"exec", d.containerName, "sh", "-c", command}
	return d.execute(ctx, args, "")
}

// Close removes the container. Idempotent and safe if the container was
// never started.
func (d *DockerSession) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if !d.started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d.logger.Info("Removing container %s", d.containerName)
	if err := exec.CommandContext(ctx, d.dockerCmd, "rm", "-f", d.containerName).Run(); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", d.containerName, err)
	}
	return nil
}

func (d *DockerSession) ensureContainer(ctx context.Context) error {
	if d.started {
		return nil
	}

	args := []string{"run", "-d", "--name", d.containerName}
	args = append(args, "--security-opt", "no-new-privileges")
	if d.opts.NetworkDisabled {
		args = append(args, "--network", "none")
	}
	if d.opts.Memory != "" {
		args = append(args, "--memory", d.opts.Memory)
	}
	if d.opts.CPUs != "" {
		args = append(args, "--cpus", d.opts.CPUs)
	}
	args = append(args, d.opts.Image, "sleep", "infinity")

	d.logger.Info("Starting container %s (image %s)", d.containerName, d.opts.Image)
	out, err := exec.CommandContext(ctx, d.dockerCmd, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to start container: %w: %s", err, strings.TrimSpace(string(out)))
	}
	d.started = true
	return nil
}

func (d *DockerSession) execute(ctx context.Context, args []string, stdin string) (Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.dockerCmd, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

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
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("failed to exec in container %s: %w", d.containerName, err)
	}
	return result, nil
}
