package vault

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no item matches the service exactly or the
	// item does not allow the requested scope. Callers cannot tell the two apart.
	ErrNotFound = errors.New("credential not found")

	// ErrUnavailable is returned when a usable session could not be established.
	ErrUnavailable = errors.New("vault unavailable")

	// ErrTimeout marks a vault command killed after exceeding its timeout.
	ErrTimeout = errors.New("command timed out")
)

// CommandError reports a failed vault CLI invocation: a non-zero exit, a
// timeout, or a failure to start the process.
type CommandError struct {
	Command  string // e.g. "bw unlock"
	ExitCode int    // -1 when the process did not exit normally
	Stderr   string // redacted
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	switch {
	case e.Err != nil && msg != "":
		return fmt.Sprintf("vault command %q failed: %v: %s", e.Command, e.Err, msg)
	case e.Err != nil:
		return fmt.Sprintf("vault command %q failed: %v", e.Command, e.Err)
	case msg != "":
		return fmt.Sprintf("vault command %q failed (exit %d): %s", e.Command, e.ExitCode, msg)
	default:
		return fmt.Sprintf("vault command %q failed (exit %d)", e.Command, e.ExitCode)
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError returns true if err is or wraps a CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}
