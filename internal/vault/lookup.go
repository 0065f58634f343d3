package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/aspect-build/morpheus/internal/logx"
)

// Lookup resolves a service/scope pair to a credential through the session.
type Lookup struct {
	session *Session
}

// NewLookup returns a Lookup backed by session.
func NewLookup(session *Session) *Lookup {
	return &Lookup{session: session}
}

// Lookup returns the credential for service if its policy allows scope, along
// with the policy. A missing service and a disallowed scope both yield
// ErrNotFound.
func (l *Lookup) Lookup(ctx context.Context, service, scope string) (*Credential, Policy, error) {
	key, err := l.session.EnsureSession(ctx)
	if err != nil {
		return nil, Policy{}, err
	}

	items, err := l.session.Client().ListItems(ctx, key, service)
	if err != nil {
		return nil, Policy{}, fmt.Errorf("search items: %w", err)
	}

	item, ok := selectItem(items, service)
	if !ok {
		logx.Warnf("vault.lookup no exact match for service=%q", service)
		return nil, Policy{}, ErrNotFound
	}

	policy := ParsePolicy(item)
	if !policy.Allows(scope) {
		logx.Warnf("vault.lookup scope %q not allowed for service=%q allowed=%v", scope, service, policy.Scopes())
		return nil, Policy{}, ErrNotFound
	}

	logx.Infof("vault.lookup resolved credential for %s:%s", service, scope)
	return NewCredential(item, service, scope), policy, nil
}

// ListServices returns the sorted names of items that declare scopes.
func (l *Lookup) ListServices(ctx context.Context) ([]string, error) {
	key, err := l.session.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	items, err := l.session.Client().ListItems(ctx, key, "")
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return ServiceNames(items), nil
}

// selectItem picks the item whose name equals service case-insensitively.
// The upstream search is a substring match; exactness is enforced here.
func selectItem(items []Item, service string) (Item, bool) {
	for _, it := range items {
		if strings.EqualFold(it.Name, service) {
			return it, true
		}
	}
	return Item{}, false
}
