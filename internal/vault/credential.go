package vault

import (
	"encoding/json"
	"sort"
	"strings"
)

// Kind distinguishes login-like from card-like credentials.
type Kind string

const (
	KindLogin Kind = "login"
	KindCard  Kind = "card"
)

// Names of the custom fields that carry policy. They are never part of a
// Credential.
const (
	fieldScope       = "scope"
	fieldScopes      = "scopes"
	fieldAutoApprove = "auto_approve"
)

func isControlField(name string) bool {
	switch strings.ToLower(name) {
	case fieldScope, fieldScopes, fieldAutoApprove:
		return true
	}
	return false
}

// Policy is derived from an item's control fields at lookup time.
type Policy struct {
	scopes      map[string]struct{}
	AutoApprove bool
}

// ParsePolicy builds a Policy from an item's custom fields.
func ParsePolicy(item Item) Policy {
	p := Policy{scopes: make(map[string]struct{})}
	if v, ok := item.Field(fieldScope, fieldScopes); ok {
		for _, s := range strings.Split(v, ",") {
			s = normalizeScope(s)
			if s != "" {
				p.scopes[s] = struct{}{}
			}
		}
	}
	if v, ok := item.Field(fieldAutoApprove); ok {
		p.AutoApprove = strings.EqualFold(v, "true")
	}
	return p
}

// Allows reports whether scope is in the allowed set, ignoring case and
// surrounding whitespace.
func (p Policy) Allows(scope string) bool {
	s := normalizeScope(scope)
	if s == "" {
		return false
	}
	_, ok := p.scopes[s]
	return ok
}

// Scopes returns the allowed scopes, sorted.
func (p Policy) Scopes() []string {
	out := make([]string, 0, len(p.scopes))
	for s := range p.scopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func normalizeScope(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Credential is an immutable credential record handed to a requester. It
// never contains policy control fields.
type Credential struct {
	service    string
	scope      string
	name       string
	kind       Kind
	attributes map[string]string
	uris       []string
	notes      string
	fields     map[string]string
}

// NewCredential builds the record for item as requested under service/scope.
func NewCredential(item Item, service, scope string) *Credential {
	c := &Credential{
		service:    service,
		scope:      scope,
		name:       item.Name,
		notes:      item.Notes,
		attributes: make(map[string]string),
		fields:     make(map[string]string),
	}

	if item.IsCard() {
		c.kind = KindCard
		card := item.Card
		c.attributes["cardholder"] = card.CardholderName
		c.attributes["number"] = card.Number
		c.attributes["expiry"] = formatExpiry(card.ExpMonth, card.ExpYear)
		c.attributes["code"] = card.Code
		c.attributes["brand"] = card.Brand
	} else {
		c.kind = KindLogin
		if item.Login != nil {
			c.attributes["username"] = item.Login.Username
			c.attributes["password"] = item.Login.Password
			for _, u := range item.Login.URIs {
				if u.URI != "" {
					c.uris = append(c.uris, u.URI)
				}
			}
		} else {
			c.attributes["username"] = ""
			c.attributes["password"] = ""
		}
	}

	for _, f := range item.Fields {
		if isControlField(f.Name) {
			continue
		}
		c.fields[f.Name] = f.Value
	}
	return c
}

func formatExpiry(month, year string) string {
	switch {
	case month != "" && year != "":
		return month + "/" + year
	case year != "":
		return year
	default:
		return month
	}
}

func (c *Credential) Service() string { return c.service }
func (c *Credential) Scope() string   { return c.scope }
func (c *Credential) Name() string    { return c.name }
func (c *Credential) Kind() Kind      { return c.kind }
func (c *Credential) Notes() string   { return c.notes }

// Attribute returns a base attribute such as "username" or "number".
func (c *Credential) Attribute(name string) (string, bool) {
	v, ok := c.attributes[name]
	return v, ok
}

// URIs returns a copy of the login URIs.
func (c *Credential) URIs() []string {
	return append([]string(nil), c.uris...)
}

// Fields returns a copy of the extra custom fields.
func (c *Credential) Fields() map[string]string {
	out := make(map[string]string, len(c.fields))
	for k, v := range c.fields {
		out[k] = v
	}
	return out
}

// Payload flattens the credential for delivery to the requester. Base
// attributes win over custom fields with the same name.
func (c *Credential) Payload() map[string]any {
	out := make(map[string]any, len(c.attributes)+len(c.fields)+6)
	for k, v := range c.fields {
		out[k] = v
	}
	for k, v := range c.attributes {
		out[k] = v
	}
	out["service"] = c.service
	out["scope"] = c.scope
	out["name"] = c.name
	out["kind"] = string(c.kind)
	out["notes"] = c.notes
	if c.kind == KindLogin {
		uris := c.URIs()
		if uris == nil {
			uris = []string{}
		}
		out["uris"] = uris
	}
	return out
}

type credentialJSON struct {
	Service    string            `json:"service"`
	Scope      string            `json:"scope"`
	Name       string            `json:"name"`
	Kind       Kind              `json:"kind"`
	Attributes map[string]string `json:"attributes"`
	URIs       []string          `json:"uris,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// MarshalJSON encodes the full record so it can be restored with UnmarshalJSON.
func (c *Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(credentialJSON{
		Service:    c.service,
		Scope:      c.scope,
		Name:       c.name,
		Kind:       c.kind,
		Attributes: c.attributes,
		URIs:       c.uris,
		Notes:      c.notes,
		Fields:     c.fields,
	})
}

func (c *Credential) UnmarshalJSON(data []byte) error {
	var w credentialJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Credential{
		service:    w.Service,
		scope:      w.Scope,
		name:       w.Name,
		kind:       w.Kind,
		attributes: w.Attributes,
		uris:       w.URIs,
		notes:      w.Notes,
		fields:     w.Fields,
	}
	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}
	if c.fields == nil {
		c.fields = make(map[string]string)
	}
	return nil
}
