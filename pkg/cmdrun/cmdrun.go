package cmdrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/shipgate/shipgate/pkg/types"
)

// LaunchError means the command could not be started at all, e.g. the
// binary is missing. A command that started and exited non-zero is not a
// LaunchError; that is a normal CommandResult.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("cannot launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Runner executes local commands with a timeout
type Runner struct {
	// Dir is the working directory for commands. Empty means the
	// process working directory.
	Dir string

	// Env holds extra environment entries in "KEY=value" form. When nil
	// the command inherits the process environment.
	Env []string
}

// Run executes command (argv form) and captures its output. The command is
// killed when timeout elapses and the result carries TimedOut=true. A
// non-zero exit status is returned as a normal result with a nil error.
func (r *Runner) Run(ctx context.Context, command []string, timeout time.Duration) (*types.CommandResult, error) {
	if len(command) == 0 {
		return nil, &LaunchError{Err: errors.New("empty command")}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = r.Dir
	if r.Env != nil {
		cmd.Env = r.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Command: Format(command), Err: err}
	}

	waitErr := cmd.Wait()

	result := &types.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && !result.TimedOut {
			// Wait failed for a reason other than the command exiting
			return result, &LaunchError{Command: Format(command), Err: waitErr}
		}
	}

	return result, nil
}

// Shell runs command strings through the local shell. It implements the
// same contract as the remote executor for targets that live on the
// machine the orchestrator runs on.
type Shell struct {
	runner  Runner
	Timeout time.Duration
}

// NewShell creates a local shell runner. A zero timeout uses the same
// per-command bound as the remote executor default.
func NewShell(timeout time.Duration) *Shell {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Shell{Timeout: timeout}
}

// Run executes command via sh -c, mirroring how the remote executor hands
// command strings to the remote shell
func (s *Shell) Run(ctx context.Context, command string) (*types.CommandResult, error) {
	return s.runner.Run(ctx, []string{"/bin/sh", "-c", command}, s.Timeout)
}

// Parse splits a shell-quoted command string into argv form.
//
// Example: `git commit -m "my message"` -> ["git", "commit", "-m", "my message"]
func Parse(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, errors.New("empty command string")
	}
	return parts, nil
}

// Format joins argv back into a readable, correctly quoted string for logs
func Format(command []string) string {
	if len(command) == 0 {
		return "<empty command>"
	}
	return shellquote.Join(command...)
}
