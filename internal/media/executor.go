package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// CommandRequest describes one external tool invocation
type CommandRequest struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// CommandResponse captures the outcome of a command
type CommandResponse struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes external commands
type Runner interface {
	Run(ctx context.Context, req CommandRequest) (CommandResponse, error)
}

// LocalRunner runs commands on the host with a per-call timeout. On timeout the
// whole process group is killed so ffmpeg children do not linger.
type LocalRunner struct {
	DefaultTimeout time.Duration
}

// Run implements Runner
func (r *LocalRunner) Run(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	binaryPath, err := exec.LookPath(req.Command)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to resolve binary path for %s: %w", req.Command, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binaryPath, req.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()

	resp := CommandResponse{
		ExitCode: exitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return resp, fmt.Errorf("%s timed out after %v: %w", req.Command, timeout, context.DeadlineExceeded)
	}
	if err != nil {
		return resp, fmt.Errorf("%s exited with code %d: %s", req.Command, resp.ExitCode, tail(resp.Stderr, 512))
	}

	return resp, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
