package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aspect-build/morpheus/internal/logx"
	"golang.org/x/sync/singleflight"
)

// State is the vault session lifecycle state.
type State int

const (
	StateLoggedOut State = iota
	StateAuthenticating
	StateAuthenticatedLocked
	StateUnlocking
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticatedLocked:
		return "locked"
	case StateUnlocking:
		return "unlocking"
	case StateUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// event is the outcome of one step run by the session machine.
type event int

const (
	evProbeOK event = iota
	evProbeFailed
	evLoginSucceeded
	evAlreadyAuthenticated
	evLoginFailed
	evUnlockSucceeded
	evUnlockFailed
	evSessionGone // unlock failed and the CLI reports no login
)

// transition is the session machine's transition table.
func transition(from State, ev event) State {
	switch from {
	case StateUnlocked:
		switch ev {
		case evProbeOK:
			return StateUnlocked
		case evProbeFailed:
			return StateAuthenticatedLocked
		}
	case StateLoggedOut, StateAuthenticating:
		switch ev {
		case evLoginSucceeded:
			return StateUnlocked
		case evAlreadyAuthenticated:
			return StateAuthenticatedLocked
		case evLoginFailed:
			return StateLoggedOut
		}
	case StateAuthenticatedLocked, StateUnlocking:
		switch ev {
		case evUnlockSucceeded:
			return StateUnlocked
		case evUnlockFailed:
			return StateAuthenticatedLocked
		case evSessionGone:
			return StateLoggedOut
		}
	}
	return from
}

// terminal reports whether ev ends the current establishment attempt.
func terminal(ev event) bool {
	switch ev {
	case evProbeOK, evLoginSucceeded, evUnlockSucceeded, evLoginFailed, evUnlockFailed:
		return true
	}
	return false
}

// maxSessionSteps bounds the steps of one establishment. The longest
// legitimate path is probe, unlock, login, unlock.
const maxSessionSteps = 6

// Session owns the vault CLI authentication lifecycle. Concurrent callers of
// EnsureSession share a single in-flight establishment.
type Session struct {
	client *Client
	group  singleflight.Group

	mu          sync.Mutex
	state       State
	key         string
	redactedKey string // latest key registered with the log redactor
}

// NewSession returns a logged-out session driven by client.
func NewSession(client *Client) *Session {
	return &Session{client: client, state: StateLoggedOut}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Client returns the CLI wrapper the session drives.
func (s *Session) Client() *Client {
	return s.client
}

// EnsureSession returns a session key that passed a liveness probe or was
// just issued by login/unlock. Failures wrap ErrUnavailable.
func (s *Session) EnsureSession(ctx context.Context) (string, error) {
	// One caller's cancellation must not fail the followers sharing the call;
	// every command is still bounded by its own timeout.
	ctx = context.WithoutCancel(ctx)
	v, err, shared := s.group.Do("session", func() (any, error) {
		return s.establish(ctx)
	})
	if shared {
		logx.Debugf("vault.session shared in-flight establishment")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Session) establish(ctx context.Context) (string, error) {
	var lastErr error
	for step := 0; step < maxSessionSteps; step++ {
		state, key := s.snapshot()

		var (
			ev     event
			newKey string
		)
		switch state {
		case StateUnlocked:
			ev, lastErr = s.probe(ctx, key)
			newKey = key
		case StateLoggedOut, StateAuthenticating:
			s.setState(StateAuthenticating, "")
			ev, newKey, lastErr = s.login(ctx)
		default:
			s.setState(StateUnlocking, "")
			ev, newKey, lastErr = s.unlock(ctx)
		}

		next := transition(s.State(), ev)
		if next != StateUnlocked {
			newKey = ""
		}
		s.setState(next, newKey)
		logx.Debugf("vault.session %s -> %s", state, next)

		if !terminal(ev) {
			continue
		}
		if next == StateUnlocked {
			return newKey, nil
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
	}
	if lastErr == nil {
		lastErr = errors.New("too many session transitions")
	}
	return "", fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (s *Session) probe(ctx context.Context, key string) (event, error) {
	if err := s.client.Sync(ctx, key); err != nil {
		logx.Warnf("vault.session liveness probe failed, re-unlocking: %v", err)
		return evProbeFailed, err
	}
	return evProbeOK, nil
}

func (s *Session) login(ctx context.Context) (event, string, error) {
	if err := s.client.ConfigureServer(ctx); err != nil {
		// Fails when the CLI still holds a login; login below sorts that out.
		logx.Debugf("vault.session configure server: %v", err)
	}

	key, already, err := s.client.Login(ctx)
	switch {
	case err != nil:
		logx.Errorf("vault.session login failed: %v", err)
		return evLoginFailed, "", err
	case already:
		logx.Infof("vault.session already authenticated, unlocking")
		return evAlreadyAuthenticated, "", nil
	case key == "":
		return evAlreadyAuthenticated, "", nil
	}
	s.rotateRedactedKey(key)
	logx.Infof("vault.session logged in")
	return evLoginSucceeded, key, nil
}

func (s *Session) unlock(ctx context.Context) (event, string, error) {
	key, err := s.client.Unlock(ctx)
	if err == nil {
		s.rotateRedactedKey(key)
		logx.Infof("vault.session unlocked")
		return evUnlockSucceeded, key, nil
	}

	if st, stErr := s.client.Status(ctx); stErr == nil && st == AuthUnauthenticated {
		logx.Warnf("vault.session unlock failed and CLI is logged out, logging in again")
		return evSessionGone, "", err
	}
	logx.Errorf("vault.session unlock failed: %v", err)
	return evUnlockFailed, "", err
}

// Logout ends the CLI login and forgets the session key.
func (s *Session) Logout(ctx context.Context) error {
	err := s.client.Logout(ctx)
	s.setState(StateLoggedOut, "")
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// rotateRedactedKey registers key with the log redactor in place of the
// previous session key.
func (s *Session) rotateRedactedKey(key string) {
	s.mu.Lock()
	prev := s.redactedKey
	s.redactedKey = key
	s.mu.Unlock()
	logx.ReplaceSecret(prev, key)
}

func (s *Session) snapshot() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.key
}

func (s *Session) setState(st State, key string) {
	s.mu.Lock()
	s.state = st
	s.key = key
	s.mu.Unlock()
}
