// Package pickup holds approved credentials for single, time-limited pickup.
package pickup

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aspect-build/morpheus/internal/crypto"
	"github.com/aspect-build/morpheus/internal/vault"
)

// TTL is how long an issued token stays redeemable.
const TTL = 5 * time.Minute

const tokenBytes = 32

// ErrNotFound is returned for unknown, already redeemed, and expired tokens alike.
var ErrNotFound = errors.New("invalid or expired pickup token")

type entry struct {
	sealed    []byte
	service   string
	scope     string
	createdAt time.Time
}

// Store maps pickup tokens to sealed credential payloads.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	sealer  *crypto.Sealer
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty store whose payloads are sealed with a fresh
// per-process key.
func NewStore(opts ...Option) (*Store, error) {
	sealer, err := crypto.NewSealer()
	if err != nil {
		return nil, err
	}
	s := &Store{
		entries: make(map[string]entry),
		sealer:  sealer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue stores cred and returns a new unguessable token for it.
func (s *Store) Issue(cred *vault.Credential) (string, error) {
	payload, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}

	idBytes := make([]byte, tokenBytes)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("generate pickup token: %w", err)
	}
	token := hex.EncodeToString(idBytes)

	sealed, err := s.sealer.Seal(payload, []byte(token))
	if err != nil {
		return "", fmt.Errorf("seal credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.gcLocked(now)
	s.entries[token] = entry{
		sealed:    sealed,
		service:   cred.Service(),
		scope:     cred.Scope(),
		createdAt: now,
	}
	return token, nil
}

// Redeem removes and returns the credential for token. Absent, redeemed and
// expired tokens all yield ErrNotFound.
func (s *Store) Redeem(token string) (*vault.Credential, error) {
	s.mu.Lock()
	s.gcLocked(s.now())
	e, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}

	payload, err := s.sealer.Open(e.sealed, []byte(token))
	if err != nil {
		return nil, fmt.Errorf("open credential: %w", err)
	}
	cred := &vault.Credential{}
	if err := json.Unmarshal(payload, cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return cred, nil
}

// Len returns the number of live entries after sweeping expired ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcLocked(s.now())
	return len(s.entries)
}

// gcLocked drops every entry older than TTL.
func (s *Store) gcLocked(now time.Time) {
	for token, e := range s.entries {
		if now.Sub(e.createdAt) > TTL {
			delete(s.entries, token)
		}
	}
}
