// Package gatekeeper turns a credential request into an approved pickup
// token or a denial.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aspect-build/morpheus/internal/approval"
	"github.com/aspect-build/morpheus/internal/audit"
	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/aspect-build/morpheus/internal/pickup"
	"github.com/aspect-build/morpheus/internal/tracing"
	"github.com/aspect-build/morpheus/internal/vault"
	"github.com/google/uuid"
)

// DefaultApprovalTimeout bounds how long a request waits for the approver.
const DefaultApprovalTimeout = 600 * time.Second

// Caller-visible messages.
const (
	MessageNotFound = "Service or scope not found, or scope not allowed"
	MessageDenied   = "Access denied"
	MessageTimedOut = "Access denied: approval timed out"
	MessageApproved = "Access approved. Pickup token: %s"
)

// CredentialLookup resolves a service/scope pair to a credential and policy.
type CredentialLookup interface {
	Lookup(ctx context.Context, service, scope string) (*vault.Credential, vault.Policy, error)
}

// Issuer hands out single-use pickup tokens.
type Issuer interface {
	Issue(cred *vault.Credential) (string, error)
}

var _ Issuer = (*pickup.Store)(nil)

// Request is one inbound credential request.
type Request struct {
	Service string
	Scope   string
	Reason  string
}

// Outcome is the caller-visible result of Handle.
type Outcome struct {
	RequestID    string
	Approved     bool
	AutoApproved bool
	PickupToken  string
	Message      string
	Result       audit.Outcome
}

// Service orchestrates lookup, approval and pickup issuance. It is the only
// caller of the lookup, the coordinator and the pickup store.
type Service struct {
	lookup    CredentialLookup
	approvals *approval.Coordinator
	pickups   Issuer
	messenger approval.Messenger
	audit     audit.Sink

	timeout time.Duration
	newID   func() string
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithApprovalTimeout sets how long Handle waits for an approver.
func WithApprovalTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithClock overrides the time source used for durations and audit
// timestamps. Approval deadlines always follow the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New wires a Service. sink may be nil.
func New(lookup CredentialLookup, approvals *approval.Coordinator, pickups Issuer,
	messenger approval.Messenger, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		lookup:    lookup,
		approvals: approvals,
		pickups:   pickups,
		messenger: messenger,
		audit:     sink,
		timeout:   DefaultApprovalTimeout,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout returns the configured approval timeout.
func (s *Service) Timeout() time.Duration { return s.timeout }

// Handle processes req to a terminal outcome and records exactly one audit
// entry for it. Lookup and messaging failures are denials, not errors. A
// non-nil error means an approved credential could not be staged for pickup;
// the returned Outcome is a denial in that case too.
func (s *Service) Handle(ctx context.Context, req Request) (out Outcome, err error) {
	start := s.now()
	out.RequestID = s.newID()

	ctx, span := tracing.StartSpan(ctx, "gatekeeper.handle", map[string]string{
		"morpheus.request_id": out.RequestID,
		"morpheus.service":    req.Service,
		"morpheus.scope":      req.Scope,
	})
	defer func() {
		span.SetAttribute("morpheus.approved", out.Approved)
		span.SetAttribute("morpheus.outcome", string(out.Result))
		span.End(err)
		s.record(ctx, req, out, s.now().Sub(start))
	}()

	logx.Infof("gatekeeper request %s: %s:%s", out.RequestID, req.Service, req.Scope)

	cred, policy, lerr := s.lookup.Lookup(ctx, req.Service, req.Scope)
	if lerr != nil {
		if errors.Is(lerr, vault.ErrNotFound) {
			logx.Warnf("gatekeeper request %s: invalid service/scope combination", out.RequestID)
			return deny(out, audit.OutcomeNotFound, MessageNotFound), nil
		}
		logx.Errorf("gatekeeper request %s: vault lookup failed: %v", out.RequestID, lerr)
		return deny(out, audit.OutcomeUnavailable, MessageDenied), nil
	}

	if policy.AutoApprove {
		logx.Infof("gatekeeper request %s: auto-approved by vault item policy", out.RequestID)
		out.AutoApproved = true
		return s.approve(out, cred, audit.OutcomeAutoApproved)
	}

	decision, aerr := s.awaitApproval(ctx, out.RequestID, req)
	if aerr != nil {
		logx.Errorf("gatekeeper request %s: approval prompt failed: %v", out.RequestID, aerr)
		return deny(out, audit.OutcomeFailed, MessageDenied), nil
	}

	switch decision {
	case approval.Approved:
		logx.Infof("gatekeeper request %s: APPROVED", out.RequestID)
		return s.approve(out, cred, audit.OutcomeApproved)
	case approval.TimedOut:
		logx.Infof("gatekeeper request %s: DENIED (timeout)", out.RequestID)
		return deny(out, audit.OutcomeTimedOut, MessageTimedOut), nil
	default:
		logx.Infof("gatekeeper request %s: DENIED", out.RequestID)
		return deny(out, audit.OutcomeDenied, MessageDenied), nil
	}
}

// awaitApproval registers the request, shows it to the approver and blocks
// until a decision or the deadline.
func (s *Service) awaitApproval(ctx context.Context, id string, req Request) (approval.Decision, error) {
	pending, err := s.approvals.Begin(id)
	if err != nil {
		return 0, err
	}
	deadline := time.Now().Add(s.timeout)

	handle, err := s.messenger.PresentApprovalRequest(ctx, approval.Prompt{
		CorrelationID: id,
		Service:       req.Service,
		Scope:         req.Scope,
		Reason:        req.Reason,
	})
	if err != nil {
		s.approvals.Cancel(pending)
		return 0, fmt.Errorf("present approval request: %w", err)
	}

	decision := s.approvals.Await(pending, deadline)

	if err := s.messenger.AnnotateResult(context.WithoutCancel(ctx), handle, decision); err != nil {
		logx.Warnf("gatekeeper request %s: annotate result failed: %v", id, err)
	}
	return decision, nil
}

func (s *Service) approve(out Outcome, cred *vault.Credential, result audit.Outcome) (Outcome, error) {
	token, err := s.pickups.Issue(cred)
	if err != nil {
		out.AutoApproved = false
		return deny(out, audit.OutcomeFailed, MessageDenied), fmt.Errorf("issue pickup token: %w", err)
	}
	out.Approved = true
	out.PickupToken = token
	out.Result = result
	out.Message = fmt.Sprintf(MessageApproved, token)
	return out, nil
}

func deny(out Outcome, result audit.Outcome, msg string) Outcome {
	out.Approved = false
	out.PickupToken = ""
	out.Result = result
	out.Message = msg
	return out
}

// record emits the single audit entry for a request. Failures are logged and
// never change the outcome.
func (s *Service) record(ctx context.Context, req Request, out Outcome, elapsed time.Duration) {
	if s.audit == nil {
		return
	}
	entry := audit.Entry{
		RequestID:    out.RequestID,
		Service:      req.Service,
		Scope:        req.Scope,
		Reason:       req.Reason,
		Approved:     out.Approved,
		AutoApproved: out.AutoApproved,
		Outcome:      out.Result,
		Duration:     elapsed,
		At:           s.now(),
	}
	if err := s.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		logx.Warnf("gatekeeper request %s: audit log failed: %v", out.RequestID, err)
	}
}
