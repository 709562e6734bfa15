//go:build unix

package resolver

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerCapturesStdout(t *testing.T) {
	requireShell(t)

	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", `printf '{"url":"x"}'`)
	require.NoError(t, err)
	assert.Equal(t, `{"url":"x"}`, string(out))
}

func TestExecRunnerExitError(t *testing.T) {
	requireShell(t)

	_, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "boom")
}

func TestExecRunnerKillsProcessGroupOnTimeout(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	// the grandchild keeps stdout open; only a group kill ends this quickly
	_, err := ExecRunner{WaitDelay: time.Second}.Run(ctx, "sh", "-c", "sleep 30 & sleep 30")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "definitely-not-a-real-binary-vidproxy")
	assert.ErrorIs(t, err, exec.ErrNotFound)
}
