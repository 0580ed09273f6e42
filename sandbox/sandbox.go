// Package sandbox runs generated evaluation scripts in an isolated
// subprocess: fresh working directory, scrubbed environment, rlimit caps on
// memory and CPU, an empty network namespace, process-group kill on timeout,
// and capped output.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/djjay0131/agentic-kg/faults"
)

const (
	// DefaultTimeout is the wall-clock limit per execution.
	DefaultTimeout = 300 * time.Second
	// DefaultMemoryLimit caps the child's address space.
	DefaultMemoryLimit = 2 << 30
	// DefaultCPUSeconds caps the child's CPU time.
	DefaultCPUSeconds = 300
	// MaxOutputBytes caps stdout and stderr individually.
	MaxOutputBytes = 50 * 1024
	// TruncationMarker is appended to output cut at the cap.
	TruncationMarker = "\n[output truncated]"
)

// Options configure the runner.
type Options struct {
	// Interpreter runs the script file. Empty means python3.
	Interpreter string
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
	// BaseDir hosts per-execution working directories. Empty means the
	// system temp dir.
	BaseDir string
	// Env is the complete child environment. The child never inherits the
	// parent's; proxy and credential variables stay out.
	Env []string
	// MemoryLimitBytes is RLIMIT_AS for the child. Non-positive means
	// DefaultMemoryLimit.
	MemoryLimitBytes int64
	// CPUSeconds is RLIMIT_CPU for the child. Non-positive means
	// DefaultCPUSeconds.
	CPUSeconds int
	// AllowNetwork keeps the child in the host network namespace. The
	// default places it in an empty one via CLONE_NEWUSER|CLONE_NEWNET;
	// where user namespaces are unavailable the child runs with host
	// networking and a warning.
	AllowNetwork bool
}

// Result is the outcome of one execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// ParseMetrics scans stdout for the last line that starts with "{" and
// decodes as a JSON object. Absent or undecodable yields an empty map.
func (r Result) ParseMetrics() map[string]any {
	lines := strings.Split(r.Stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err == nil {
			return m
		}
	}
	return map[string]any{}
}

// Runner executes scripts one process per call.
type Runner struct {
	opts   Options
	logger *zap.Logger
}

func NewRunner(opts Options, logger *zap.Logger) *Runner {
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MemoryLimitBytes <= 0 {
		opts.MemoryLimitBytes = DefaultMemoryLimit
	}
	if opts.CPUSeconds <= 0 {
		opts.CPUSeconds = DefaultCPUSeconds
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opts: opts, logger: logger}
}

// Run writes the script into a fresh directory, executes it, and removes
// the directory afterwards. A timeout kills the whole process group and
// reports TimedOut rather than an error; caller cancellation and launch
// failures are errors.
func (r *Runner) Run(ctx context.Context, script string) (Result, error) {
	if strings.TrimSpace(script) == "" {
		return Result{}, faults.New(faults.KindValidation, "sandbox", "empty script")
	}

	dir, err := os.MkdirTemp(r.opts.BaseDir, "sandbox-")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create sandbox dir: %w", err)
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, "script")
	if err := os.WriteFile(scriptPath, []byte(script), 0o600); err != nil {
		return Result{}, fmt.Errorf("failed to write script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var stdout, stderr capBuffer
	stdout.limit, stderr.limit = MaxOutputBytes, MaxOutputBytes

	started := time.Now()
	cmd, err := r.start(dir, scriptPath, &stdout, &stderr, !r.opts.AllowNetwork)
	if err != nil && !r.opts.AllowNetwork && namespaceUnsupported(err) {
		r.logger.Warn("network isolation unavailable, child keeps host networking", zap.Error(err))
		cmd, err = r.start(dir, scriptPath, &stdout, &stderr, false)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to start sandbox process: %w", err)
	}

	if err := r.applyLimits(cmd.Process.Pid); err != nil {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		cmd.Wait()
		return Result{}, fmt.Errorf("failed to apply resource limits: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	res := Result{}
	select {
	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Caller cancellation, not an expired experiment.
			return Result{}, fmt.Errorf("sandbox run cancelled: %w", ctx.Err())
		}
		res.TimedOut = true
		res.ExitCode = -1
	case err := <-done:
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			res.ExitCode = 0
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			return Result{}, fmt.Errorf("failed to run sandbox process: %w", err)
		}
	}

	res.Duration = time.Since(started)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	r.logger.Debug("sandbox run finished",
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// start launches the interpreter in its own process group, optionally inside
// a fresh user+network namespace pair.
func (r *Runner) start(dir, scriptPath string, stdout, stderr io.Writer, isolateNet bool) (*exec.Cmd, error) {
	cmd := exec.Command(r.opts.Interpreter, scriptPath)
	cmd.Dir = dir
	cmd.Env = r.opts.Env
	if cmd.Env == nil {
		cmd.Env = []string{"HOME=" + dir, "TMPDIR=" + dir, "PATH=/usr/bin:/bin"}
	}
	// Own process group so a timeout kill reaches grandchildren too.
	attr := &syscall.SysProcAttr{Setpgid: true}
	if isolateNet {
		attr.Cloneflags = syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	}
	cmd.SysProcAttr = attr
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// applyLimits pins address-space and CPU rlimits onto the running child.
// A child that already exited is not an error.
func (r *Runner) applyLimits(pid int) error {
	mem := unix.Rlimit{Cur: uint64(r.opts.MemoryLimitBytes), Max: uint64(r.opts.MemoryLimitBytes)}
	if err := unix.Prlimit(pid, unix.RLIMIT_AS, &mem, nil); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("memory limit: %w", err)
	}
	cpu := unix.Rlimit{Cur: uint64(r.opts.CPUSeconds), Max: uint64(r.opts.CPUSeconds)}
	if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &cpu, nil); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("cpu limit: %w", err)
	}
	return nil
}

// namespaceUnsupported reports whether a start failure looks like the kernel
// or container policy forbidding unprivileged user namespaces.
func namespaceUnsupported(err error) bool {
	return errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOSYS)
}

// capBuffer accepts writes up to limit bytes, then drops the rest and marks
// the cut.
type capBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *capBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *capBuffer) String() string {
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}
