package pickup

import (
	"sync"
	"testing"
	"time"

	"github.com/aspect-build/morpheus/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewStore(WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func testCredential() *vault.Credential {
	return vault.NewCredential(vault.Item{
		Name:  "github",
		Type:  vault.ItemTypeLogin,
		Login: &vault.LoginData{Username: "octocat", Password: "hunter2"},
	}, "github", "read")
}

func TestRedeem_ExactlyOnce(t *testing.T) {
	s, _ := newTestStore(t)

	token, err := s.Issue(testCredential())
	require.NoError(t, err)
	assert.Len(t, token, 2*tokenBytes)

	cred, err := s.Redeem(token)
	require.NoError(t, err)
	pw, _ := cred.Attribute("password")
	assert.Equal(t, "hunter2", pw)
	assert.Equal(t, "github", cred.Service())

	_, err = s.Redeem(token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeem_UnknownToken(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Redeem("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeem_ExpiredIsIndistinguishable(t *testing.T) {
	s, clock := newTestStore(t)

	token, err := s.Issue(testCredential())
	require.NoError(t, err)

	clock.Advance(TTL + time.Second)
	_, errExpired := s.Redeem(token)
	_, errUnknown := s.Redeem("never-issued")

	require.Error(t, errExpired)
	assert.Equal(t, errUnknown, errExpired)
}

func TestRedeem_WithinTTL(t *testing.T) {
	s, clock := newTestStore(t)

	token, err := s.Issue(testCredential())
	require.NoError(t, err)

	clock.Advance(TTL)
	_, err = s.Redeem(token)
	assert.NoError(t, err)
}

func TestIssue_SweepsStaleEntries(t *testing.T) {
	s, clock := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.Issue(testCredential())
		require.NoError(t, err)
	}
	clock.Advance(TTL + time.Minute)

	_, err := s.Issue(testCredential())
	require.NoError(t, err)

	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	assert.Equal(t, 1, n, "issue sweeps unredeemed expired tokens")
}

func TestTokensAreUnique(t *testing.T) {
	s, _ := newTestStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := s.Issue(testCredential())
		require.NoError(t, err)
		require.False(t, seen[token])
		seen[token] = true
	}
	assert.Equal(t, 100, s.Len())
}

func TestRedeem_ConcurrentSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	token, err := s.Issue(testCredential())
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Redeem(token); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
