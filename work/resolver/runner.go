package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExitError reports a non-zero exit with whatever the tool printed to stderr.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, msg)
}

// ExecRunner runs commands as child processes in their own process group so
// that a timeout kills the tool together with anything it spawned.
type ExecRunner struct {
	// WaitDelay bounds how long Wait blocks on pipes held open by
	// grandchildren after the group has been killed.
	WaitDelay time.Duration
}

// Run starts name with args and waits for it to exit or ctx to end.
//
// Parameters:
//   - ctx: cancellation and deadline; on expiry the process group is SIGKILLed
//   - name: binary to run, looked up in PATH
//   - args: arguments
//
// Returns:
//   - []byte: captured stdout
//   - error: exec.ErrNotFound, *ExitError, or ctx.Err() after a kill
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	configureProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
