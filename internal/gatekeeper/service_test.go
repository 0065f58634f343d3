package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aspect-build/morpheus/internal/approval"
	"github.com/aspect-build/morpheus/internal/audit"
	"github.com/aspect-build/morpheus/internal/pickup"
	"github.com/aspect-build/morpheus/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupResult struct {
	item vault.Item
	err  error
}

type fakeLookup struct {
	items map[string]lookupResult
	calls atomic.Int32
}

func (f *fakeLookup) Lookup(_ context.Context, service, scope string) (*vault.Credential, vault.Policy, error) {
	f.calls.Add(1)
	r, ok := f.items[service]
	if !ok {
		return nil, vault.Policy{}, vault.ErrNotFound
	}
	if r.err != nil {
		return nil, vault.Policy{}, r.err
	}
	policy := vault.ParsePolicy(r.item)
	if !policy.Allows(scope) {
		return nil, vault.Policy{}, vault.ErrNotFound
	}
	return vault.NewCredential(r.item, service, scope), policy, nil
}

// fakeMessenger answers each prompt through the coordinator, the way the
// chat bot does when the approver reacts.
type fakeMessenger struct {
	mu         sync.Mutex
	resolver   approval.Resolver
	respond    func(p approval.Prompt) (approval.Decision, bool)
	presentErr error
	prompts    []approval.Prompt
	annotated  map[string]approval.Decision
}

func (m *fakeMessenger) PresentApprovalRequest(_ context.Context, p approval.Prompt) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, p)
	m.mu.Unlock()
	if m.presentErr != nil {
		return "", m.presentErr
	}
	if m.respond != nil {
		if d, ok := m.respond(p); ok {
			m.resolver.Resolve(p.CorrelationID, d)
		}
	}
	return "msg-" + p.CorrelationID, nil
}

func (m *fakeMessenger) AnnotateResult(_ context.Context, handle string, d approval.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.annotated == nil {
		m.annotated = make(map[string]approval.Decision)
	}
	m.annotated[handle] = d
	return nil
}

func (m *fakeMessenger) promptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (s *recordingSink) Record(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func (s *recordingSink) all() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

type harness struct {
	svc       *Service
	lookup    *fakeLookup
	approvals *approval.Coordinator
	pickups   *pickup.Store
	messenger *fakeMessenger
	sink      *recordingSink
}

func loginItem(name, scopes, autoApprove string) vault.Item {
	it := vault.Item{
		Name:  name,
		Type:  vault.ItemTypeLogin,
		Login: &vault.LoginData{Username: "octocat", Password: "hunter2"},
		Fields: []vault.Field{
			{Name: "scopes", Value: scopes},
		},
	}
	if autoApprove != "" {
		it.Fields = append(it.Fields, vault.Field{Name: "auto_approve", Value: autoApprove})
	}
	return it
}

func newHarness(t *testing.T, timeout time.Duration, items ...vault.Item) *harness {
	t.Helper()
	lookup := &fakeLookup{items: make(map[string]lookupResult)}
	for _, it := range items {
		lookup.items[it.Name] = lookupResult{item: it}
	}
	approvals := approval.NewCoordinator()
	pickups, err := pickup.NewStore()
	require.NoError(t, err)
	messenger := &fakeMessenger{resolver: approvals}
	sink := &recordingSink{}

	var n atomic.Int32
	svc := New(lookup, approvals, pickups, messenger, sink,
		WithApprovalTimeout(timeout),
		WithIDGenerator(func() string { return fmt.Sprintf("req-%d", n.Add(1)) }),
	)
	return &harness{svc: svc, lookup: lookup, approvals: approvals, pickups: pickups, messenger: messenger, sink: sink}
}

func approveAll(approval.Prompt) (approval.Decision, bool) { return approval.Approved, true }

func TestHandle_AutoApproveSkipsMessenger(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "read", "TRUE"))

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: "ci pipeline needs it"})
	require.NoError(t, err)

	assert.True(t, out.Approved)
	assert.True(t, out.AutoApproved)
	assert.NotEmpty(t, out.PickupToken)
	assert.Equal(t, audit.OutcomeAutoApproved, out.Result)
	assert.Equal(t, 0, h.messenger.promptCount())
	assert.Equal(t, 0, h.approvals.Len())

	entries := h.sink.all()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].AutoApproved)
	assert.True(t, entries[0].Approved)
	assert.Equal(t, out.RequestID, entries[0].RequestID)
}

func TestHandle_ApprovedThenRedeemOnce(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "read", ""))
	h.messenger.respond = approveAll

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: "rotate deploy keys"})
	require.NoError(t, err)
	require.True(t, out.Approved)
	assert.False(t, out.AutoApproved)
	assert.Contains(t, out.Message, out.PickupToken)

	cred, err := h.pickups.Redeem(out.PickupToken)
	require.NoError(t, err)
	pw, _ := cred.Attribute("password")
	assert.Equal(t, "hunter2", pw)

	_, err = h.pickups.Redeem(out.PickupToken)
	assert.ErrorIs(t, err, pickup.ErrNotFound)

	assert.Equal(t, approval.Approved, h.messenger.annotated["msg-"+out.RequestID])
	assert.Len(t, h.sink.all(), 1)
}

func TestHandle_Denied(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "read", ""))
	h.messenger.respond = func(approval.Prompt) (approval.Decision, bool) { return approval.Denied, true }

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: "rotate deploy keys"})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Empty(t, out.PickupToken)
	assert.Equal(t, MessageDenied, out.Message)
	assert.Equal(t, audit.OutcomeDenied, out.Result)
	assert.Equal(t, approval.Denied, h.messenger.annotated["msg-"+out.RequestID])
}

func TestHandle_TimeoutThenLateSignalIsNoop(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, loginItem("github", "read", ""))

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: "rotate deploy keys"})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Equal(t, audit.OutcomeTimedOut, out.Result)
	assert.False(t, h.approvals.IsPending(out.RequestID))
	assert.Equal(t, approval.TimedOut, h.messenger.annotated["msg-"+out.RequestID])

	assert.False(t, h.approvals.Resolve(out.RequestID, approval.Approved))
	assert.Equal(t, 0, h.approvals.Len())
	assert.Len(t, h.sink.all(), 1)
}

func TestHandle_ScopeNotAllowedNeverPrompts(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "read", ""))
	h.messenger.respond = approveAll

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "admin", Reason: "need admin access"})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Equal(t, MessageNotFound, out.Message)
	assert.Equal(t, audit.OutcomeNotFound, out.Result)
	assert.Equal(t, 0, h.messenger.promptCount())

	unknown, err := h.svc.Handle(context.Background(), Request{Service: "gitlab", Scope: "read", Reason: "need read access"})
	require.NoError(t, err)
	assert.Equal(t, out.Message, unknown.Message, "missing service and disallowed scope look the same")
	assert.Len(t, h.sink.all(), 2)
}

func TestHandle_VaultUnavailableDenies(t *testing.T) {
	h := newHarness(t, time.Second)
	h.lookup.items["github"] = lookupResult{err: fmt.Errorf("%w: login failed", vault.ErrUnavailable)}

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: "rotate deploy keys"})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Equal(t, audit.OutcomeUnavailable, out.Result)
	assert.Equal(t, 0, h.messenger.promptCount())
}

func TestHandle_PresentFailureCancelsPending(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "read", ""))
	h.messenger.presentErr = errors.New("channel not found")

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: "rotate deploy keys"})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Equal(t, MessageDenied, out.Message)
	assert.Equal(t, audit.OutcomeFailed, out.Result)
	assert.Equal(t, 0, h.approvals.Len())
	assert.Len(t, h.sink.all(), 1)
}

func TestHandle_AuditFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "read", "true"))
	h.sink.err = errors.New("disk full")

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: "ci pipeline needs it"})
	require.NoError(t, err)
	assert.True(t, out.Approved)
	assert.NotEmpty(t, out.PickupToken)
}

func TestHandle_ScopeCaseInsensitive(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "Read, Write", "true"))

	for _, scope := range []string{"write", "READ", " read "} {
		out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: scope, Reason: "ci pipeline needs it"})
		require.NoError(t, err)
		assert.True(t, out.Approved, "scope %q", scope)
	}
}

type failingIssuer struct{}

func (failingIssuer) Issue(*vault.Credential) (string, error) { return "", errors.New("no entropy") }

func TestHandle_IssueFailureIsDenialWithError(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "read", "true"))
	h.svc.pickups = failingIssuer{}

	out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: "ci pipeline needs it"})
	require.Error(t, err)
	assert.False(t, out.Approved)
	assert.False(t, out.AutoApproved)
	assert.Empty(t, out.PickupToken)

	entries := h.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeFailed, entries[0].Outcome)
}

func TestHandle_ConcurrentRequestsResolveIndependently(t *testing.T) {
	h := newHarness(t, time.Second, loginItem("github", "read", ""))
	h.messenger.respond = func(p approval.Prompt) (approval.Decision, bool) {
		if p.Reason == "please approve me" {
			return approval.Approved, true
		}
		return approval.Denied, true
	}

	var wg sync.WaitGroup
	results := make([]Outcome, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reason := "please deny me now"
			if i%2 == 0 {
				reason = "please approve me"
			}
			out, err := h.svc.Handle(context.Background(), Request{Service: "github", Scope: "read", Reason: reason})
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for i, out := range results {
		assert.Equal(t, i%2 == 0, out.Approved, "request %d", i)
	}
	assert.Equal(t, 0, h.approvals.Len())
	assert.Len(t, h.sink.all(), 10)
}

func TestNew_Defaults(t *testing.T) {
	svc := New(&fakeLookup{}, approval.NewCoordinator(), nil, nil, nil, WithApprovalTimeout(0))
	assert.Equal(t, DefaultApprovalTimeout, svc.Timeout())
	assert.Len(t, svc.newID(), 36)
}
