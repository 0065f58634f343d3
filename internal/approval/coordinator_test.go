package approval

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBegin_DuplicateID(t *testing.T) {
	c := NewCoordinator()

	_, err := c.Begin("req-1")
	require.NoError(t, err)

	_, err = c.Begin("req-1")
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Equal(t, 1, c.Len())
}

func TestAwait_Approved(t *testing.T) {
	c := NewCoordinator()
	p, err := c.Begin("req-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Resolve("req-1", Approved)
	}()

	assert.Equal(t, Approved, c.Await(p, time.Now().Add(time.Second)))
	assert.False(t, c.IsPending("req-1"))
}

func TestAwait_ResolvedBeforeAwait(t *testing.T) {
	c := NewCoordinator()
	p, err := c.Begin("req-1")
	require.NoError(t, err)

	require.True(t, c.Resolve("req-1", Denied))
	assert.Equal(t, Denied, c.Await(p, time.Now().Add(time.Second)))
}

func TestAwait_TimeoutThenLateSignalIsNoop(t *testing.T) {
	c := NewCoordinator()
	p, err := c.Begin("req-1")
	require.NoError(t, err)

	got := c.Await(p, time.Now().Add(20*time.Millisecond))
	assert.Equal(t, TimedOut, got)
	assert.False(t, c.IsPending("req-1"))

	assert.False(t, c.Resolve("req-1", Approved), "late signal must not be recorded")
	assert.Equal(t, 0, c.Len())
}

func TestAwait_RecordsDeadlineOnPending(t *testing.T) {
	c := NewCoordinator()
	p, err := c.Begin("req-1")
	require.NoError(t, err)
	assert.True(t, p.Deadline().IsZero(), "no deadline before a waiter attaches")

	deadline := time.Now().Add(10 * time.Millisecond)
	assert.Equal(t, TimedOut, c.Await(p, deadline))
	assert.True(t, deadline.Equal(p.Deadline()), "deadline = %v, want %v", p.Deadline(), deadline)
}

func TestAwait_PastDeadline(t *testing.T) {
	c := NewCoordinator()
	p, err := c.Begin("req-1")
	require.NoError(t, err)

	assert.Equal(t, TimedOut, c.Await(p, time.Now().Add(-time.Second)))
}

func TestResolve_OnlyFirstSignalCounts(t *testing.T) {
	c := NewCoordinator()
	p, err := c.Begin("req-1")
	require.NoError(t, err)

	assert.True(t, c.Resolve("req-1", Denied))
	assert.False(t, c.Resolve("req-1", Approved))
	assert.Equal(t, Denied, c.Await(p, time.Now().Add(time.Second)))
}

func TestResolve_UnknownOrInvalid(t *testing.T) {
	c := NewCoordinator()
	assert.False(t, c.Resolve("nope", Approved))

	_, err := c.Begin("req-1")
	require.NoError(t, err)
	assert.False(t, c.Resolve("req-1", TimedOut), "callers cannot force a timeout")
	assert.True(t, c.IsPending("req-1"))
}

func TestIDReusableAfterResolution(t *testing.T) {
	c := NewCoordinator()
	p, err := c.Begin("req-1")
	require.NoError(t, err)
	c.Resolve("req-1", Approved)
	c.Await(p, time.Now().Add(time.Second))

	_, err = c.Begin("req-1")
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	c := NewCoordinator()
	p, err := c.Begin("req-1")
	require.NoError(t, err)

	c.Cancel(p)
	assert.False(t, c.IsPending("req-1"))
	assert.False(t, c.Resolve("req-1", Approved))
}

// Resolution and timeout race; every run must observe exactly one outcome and
// leave the registry empty.
func TestAwait_RaceSingleOutcome(t *testing.T) {
	c := NewCoordinator()

	for i := 0; i < 200; i++ {
		p, err := c.Begin("race")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var recorded bool
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorded = c.Resolve("race", Approved)
		}()

		got := c.Await(p, time.Now().Add(time.Duration(i%3)*time.Microsecond))
		wg.Wait()

		if recorded {
			assert.Equal(t, Approved, got)
		} else {
			assert.Equal(t, TimedOut, got)
		}
		assert.Equal(t, 0, c.Len())
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "approved", Approved.String())
	assert.Equal(t, "denied", Denied.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "unknown", Decision(0).String())
}
