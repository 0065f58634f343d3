package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/aspect-build/morpheus/internal/tracing"
)

// Environment variable names used to hand secrets to the CLI without putting
// them on its argument vector.
const (
	passwordEnv = "MORPHEUS_BW_PASSWORD"
	sessionEnv  = "BW_SESSION"
)

// AuthStatus is the CLI's view of its own authentication state.
type AuthStatus string

const (
	AuthUnauthenticated AuthStatus = "unauthenticated"
	AuthLocked          AuthStatus = "locked"
	AuthUnlocked        AuthStatus = "unlocked"
)

// ClientConfig configures the vault CLI wrapper.
type ClientConfig struct {
	ServerURL      string
	Email          string
	MasterPassword string
	CommandTimeout time.Duration
}

// Client issues individual vault CLI sub-commands. It holds no session state.
type Client struct {
	runner Runner
	cfg    ClientConfig
}

// NewClient returns a Client using runner to execute commands.
func NewClient(runner Runner, cfg ClientConfig) *Client {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	logx.AddSecrets(cfg.MasterPassword)
	return &Client{runner: runner, cfg: cfg}
}

// run executes one sub-command. name is the human-readable command used in
// errors; it never contains secrets.
func (c *Client) run(ctx context.Context, name string, env []string, args ...string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "vault.command", map[string]string{"command": name})

	start := time.Now()
	res, err := c.runner.Run(ctx, Command{Args: args, Env: env, Timeout: c.cfg.CommandTimeout})
	logx.Debugf("vault.command name=%q exit=%d elapsed=%s", name, res.ExitCode, time.Since(start).Round(time.Millisecond))

	if err != nil {
		cmdErr := &CommandError{Command: name, ExitCode: -1, Stderr: logx.Redact(string(res.Stderr)), Err: err}
		span.End(cmdErr)
		return nil, cmdErr
	}
	if res.ExitCode != 0 {
		cmdErr := &CommandError{Command: name, ExitCode: res.ExitCode, Stderr: logx.Redact(string(res.Stderr))}
		span.End(cmdErr)
		return nil, cmdErr
	}
	span.End(nil)
	return bytes.TrimSpace(res.Stdout), nil
}

// ConfigureServer points the CLI at the configured server URL.
func (c *Client) ConfigureServer(ctx context.Context) error {
	if c.cfg.ServerURL == "" {
		return nil
	}
	_, err := c.run(ctx, "bw config server", nil, "config", "server", c.cfg.ServerURL)
	return err
}

// Login authenticates non-interactively. It returns the raw session key, or
// already=true when the CLI reports an existing login.
func (c *Client) Login(ctx context.Context) (key string, already bool, err error) {
	out, err := c.run(ctx, "bw login", []string{passwordEnv + "=" + c.cfg.MasterPassword},
		"login", c.cfg.Email, "--passwordenv", passwordEnv, "--raw", "--nointeraction")
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Stderr), "already logged in") {
			return "", true, nil
		}
		return "", false, err
	}
	return string(out), false, nil
}

// Unlock unlocks the vault and returns a fresh raw session key.
func (c *Client) Unlock(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "bw unlock", []string{passwordEnv + "=" + c.cfg.MasterPassword},
		"unlock", "--passwordenv", passwordEnv, "--raw", "--nointeraction")
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", &CommandError{Command: "bw unlock", Stderr: "empty session key"}
	}
	return string(out), nil
}

// Status reports the CLI's authentication status.
func (c *Client) Status(ctx context.Context) (AuthStatus, error) {
	out, err := c.run(ctx, "bw status", nil, "status", "--nointeraction")
	if err != nil {
		return "", err
	}
	var st struct {
		Status AuthStatus `json:"status"`
	}
	if err := json.Unmarshal(out, &st); err != nil {
		return "", fmt.Errorf("decode status: %w", err)
	}
	switch st.Status {
	case AuthUnauthenticated, AuthLocked, AuthUnlocked:
		return st.Status, nil
	default:
		return "", fmt.Errorf("unknown vault status %q", st.Status)
	}
}

// Sync pulls the latest vault contents using key. It doubles as a liveness
// probe for the session key.
func (c *Client) Sync(ctx context.Context, key string) error {
	_, err := c.run(ctx, "bw sync", []string{sessionEnv + "=" + key}, "sync", "--nointeraction")
	return err
}

// ListItems returns items matching search (all items when search is empty).
func (c *Client) ListItems(ctx context.Context, key, search string) ([]Item, error) {
	args := []string{"list", "items"}
	if search != "" {
		args = append(args, "--search", search)
	}
	args = append(args, "--nointeraction")

	out, err := c.run(ctx, "bw list items", []string{sessionEnv + "=" + key}, args...)
	if err != nil {
		return nil, err
	}
	return DecodeItems(out)
}

// Logout ends the CLI login.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.run(ctx, "bw logout", nil, "logout", "--nointeraction")
	return err
}

// ServiceNames returns the sorted names of items that declare a scope policy.
func ServiceNames(items []Item) []string {
	var names []string
	for _, it := range items {
		if _, ok := it.Field(fieldScope, fieldScopes); ok {
			names = append(names, it.Name)
		}
	}
	sort.Strings(names)
	return names
}
