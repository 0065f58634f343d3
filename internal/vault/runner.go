package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultCommandTimeout bounds every vault CLI invocation unless overridden.
const DefaultCommandTimeout = 30 * time.Second

// Command is a single vault CLI invocation.
type Command struct {
	Args    []string
	Env     []string // extra KEY=VALUE pairs appended to the process environment
	Timeout time.Duration
}

// Result is what the process produced. A non-zero ExitCode is not an error at
// this layer.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes vault CLI commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs the vault CLI binary as a subprocess.
type ExecRunner struct {
	Binary string
}

// NewExecRunner returns a runner for the given binary ("bw" when empty).
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = "bw"
	}
	return &ExecRunner{Binary: binary}
}

// Run starts the process and waits for it. When the timeout elapses the whole
// process group is killed and ErrTimeout is returned.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Binary, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = 2 * time.Second
	setProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		return res, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("run %s: %w", r.Binary, err)
	}
	return res, nil
}
