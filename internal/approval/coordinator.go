// Package approval tracks in-flight approval requests from creation to a
// single terminal outcome: approved, denied, or timed out.
package approval

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Decision is the terminal outcome of a pending approval.
type Decision int

const (
	Approved Decision = iota + 1
	Denied
	TimedOut
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ErrDuplicate is returned by Begin when the correlation id is already pending.
var ErrDuplicate = errors.New("approval already pending")

// Pending is a registered approval awaiting its single resolution.
type Pending struct {
	ID        string
	CreatedAt time.Time

	deadline atomic.Int64 // unix nanos; zero until Await attaches one
	resolved atomic.Bool
	result   chan Decision // buffered(1); written only by the CAS winner
}

// Deadline returns the time after which p times out. It is zero until a
// waiter calls Await.
func (p *Pending) Deadline() time.Time {
	ns := p.deadline.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// settle records d if nothing has been recorded yet.
func (p *Pending) settle(d Decision) bool {
	if !p.resolved.CompareAndSwap(false, true) {
		return false
	}
	p.result <- d
	return true
}

// Coordinator owns the correlation id to pending approval registry.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*Pending
	now     func() time.Time
}

// NewCoordinator returns an empty registry.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		pending: make(map[string]*Pending),
		now:     time.Now,
	}
}

// Begin registers a pending approval for id.
func (c *Coordinator) Begin(id string) (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	p := &Pending{
		ID:        id,
		CreatedAt: c.now(),
		result:    make(chan Decision, 1),
	}
	c.pending[id] = p
	return p, nil
}

// Resolve delivers an approve/deny decision for id. It reports whether the
// decision was recorded; resolving an unknown, already resolved, or timed out
// id is a no-op.
func (c *Coordinator) Resolve(id string, d Decision) bool {
	if d != Approved && d != Denied {
		return false
	}

	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	return p.settle(d)
}

// Await records deadline on p and blocks until p is resolved or the deadline
// passes, whichever comes first.
// On timeout p is removed from the registry. Exactly one outcome is ever
// observed for p; call Await at most once per Pending.
func (c *Coordinator) Await(p *Pending, deadline time.Time) Decision {
	p.deadline.Store(deadline.UnixNano())
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case d := <-p.result:
		return d
	case <-timer.C:
	}

	c.remove(p)
	// No-op when a resolution won the race just before the timer fired.
	p.settle(TimedOut)
	return <-p.result
}

// Cancel drops p without an outcome, e.g. when the prompt could not be sent.
func (c *Coordinator) Cancel(p *Pending) {
	c.remove(p)
	p.resolved.Store(true)
}

// IsPending reports whether id is awaiting resolution.
func (c *Coordinator) IsPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Len returns the number of pending approvals.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) remove(p *Pending) {
	c.mu.Lock()
	if cur, ok := c.pending[p.ID]; ok && cur == p {
		delete(c.pending, p.ID)
	}
	c.mu.Unlock()
}
