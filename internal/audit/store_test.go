package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	err := s.Record(ctx, Entry{
		RequestID: "req-1",
		Service:   "github",
		Scope:     "read",
		Reason:    "deploying the docs site",
		Approved:  true,
		Outcome:   OutcomeApproved,
		Duration:  1500 * time.Millisecond,
		At:        at,
	})
	require.NoError(t, err)

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "github", got.Service)
	assert.Equal(t, "read", got.Scope)
	assert.True(t, got.Approved)
	assert.False(t, got.AutoApproved)
	assert.Equal(t, OutcomeApproved, got.Outcome)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, at.Equal(got.At))
}

func TestStore_RecentNewestFirstAndLimited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{
			RequestID: fmt.Sprintf("req-%d", i),
			Service:   "github",
			Scope:     "read",
			Outcome:   OutcomeDenied,
		}))
	}

	entries, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "req-4", entries[0].RequestID)
	assert.Equal(t, "req-2", entries[2].RequestID)
}

func TestStore_RecentEmpty(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_MigrationsIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, runMigrations(s.db))
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	var got []string
	ok := SinkFunc(func(_ context.Context, e Entry) error {
		got = append(got, "ok:"+e.RequestID)
		return nil
	})
	boom := errors.New("log channel unreachable")
	failing := SinkFunc(func(_ context.Context, e Entry) error {
		got = append(got, "fail:"+e.RequestID)
		return boom
	})

	err := Fanout{failing, nil, ok}.Record(context.Background(), Entry{RequestID: "r"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"fail:r", "ok:r"}, got)
}
