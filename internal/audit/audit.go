// Package audit records the terminal outcome of every credential request.
package audit

import (
	"context"
	"errors"
	"time"
)

// Outcome classifies how a request ended.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeAutoApproved Outcome = "auto_approved"
	OutcomeDenied       Outcome = "denied"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeUnavailable  Outcome = "vault_unavailable"
	OutcomeFailed       Outcome = "failed"
)

// Entry is one audit record. It never carries credential material.
type Entry struct {
	RequestID    string        `json:"request_id"`
	Service      string        `json:"service"`
	Scope        string        `json:"scope"`
	Reason       string        `json:"reason"`
	Approved     bool          `json:"approved"`
	AutoApproved bool          `json:"auto_approved"`
	Outcome      Outcome       `json:"outcome"`
	Duration     time.Duration `json:"duration_ns"`
	At           time.Time     `json:"at"`
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// Fanout delivers each entry to every sink, even when earlier sinks fail.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
