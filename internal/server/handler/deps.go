// Package handler implements the HTTP endpoints of the gatekeeper.
package handler

import (
	"context"

	"github.com/aspect-build/morpheus/internal/audit"
	"github.com/aspect-build/morpheus/internal/gatekeeper"
	"github.com/aspect-build/morpheus/internal/vault"
)

// Gatekeeper processes credential requests.
type Gatekeeper interface {
	Handle(ctx context.Context, req gatekeeper.Request) (gatekeeper.Outcome, error)
}

// Redeemer exchanges pickup tokens for credentials.
type Redeemer interface {
	Redeem(token string) (*vault.Credential, error)
}

// ServiceLister lists the services the vault can hand out.
type ServiceLister interface {
	ListServices(ctx context.Context) ([]string, error)
}

// Connectivity reports whether the chat collaborator is connected.
type Connectivity interface {
	Connected() bool
}

// AuditReader returns recent audit entries.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Deps bundles the collaborators the HTTP layer needs.
type Deps struct {
	Gatekeeper Gatekeeper
	Pickups    Redeemer
	Services   ServiceLister
	Chat       Connectivity
	Audit      AuditReader
}
