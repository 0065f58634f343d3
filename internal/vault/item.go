package vault

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aspect-build/morpheus/internal/logx"
)

// ItemType is the vault's numeric item type.
type ItemType int

const (
	ItemTypeLogin      ItemType = 1
	ItemTypeSecureNote ItemType = 2
	ItemTypeCard       ItemType = 3
	ItemTypeIdentity   ItemType = 4
)

func (t ItemType) valid() bool {
	return t >= ItemTypeLogin && t <= ItemTypeIdentity
}

// Item is a validated vault item as returned by `list items`.
type Item struct {
	Name   string
	Type   ItemType
	Login  *LoginData
	Card   *CardData
	Notes  string
	Fields []Field
}

// LoginData holds the credentials of a login item.
type LoginData struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	URIs     []LoginURI `json:"uris"`
}

// LoginURI is one website or app URI attached to a login.
type LoginURI struct {
	URI string `json:"uri"`
}

// CardData holds the fields of a payment card item.
type CardData struct {
	CardholderName string `json:"cardholderName"`
	Brand          string `json:"brand"`
	Number         string `json:"number"`
	ExpMonth       string `json:"expMonth"`
	ExpYear        string `json:"expYear"`
	Code           string `json:"code"`
}

// Field is a custom field on an item.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type rawItem struct {
	Name   *string    `json:"name"`
	Type   ItemType   `json:"type"`
	Login  *LoginData `json:"login"`
	Card   *CardData  `json:"card"`
	Notes  string     `json:"notes"`
	Fields []Field    `json:"fields"`
}

// IsCard reports whether the item exposes card fields rather than login fields.
func (it Item) IsCard() bool {
	return it.Type == ItemTypeCard
}

// Field returns the value of the first custom field whose name matches one of
// names case-insensitively.
func (it Item) Field(names ...string) (string, bool) {
	for _, f := range it.Fields {
		for _, n := range names {
			if strings.EqualFold(f.Name, n) {
				return f.Value, true
			}
		}
	}
	return "", false
}

// DecodeItems parses the JSON array printed by `list items`. A document that
// is not an array is an error; individual malformed items are dropped.
func DecodeItems(data []byte) ([]Item, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode item list: %w", err)
	}

	items := make([]Item, 0, len(raws))
	for i, raw := range raws {
		item, err := decodeItem(raw)
		if err != nil {
			logx.Warnf("vault.items dropping malformed item index=%d err=%v", i, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(raw json.RawMessage) (Item, error) {
	var r rawItem
	if err := json.Unmarshal(raw, &r); err != nil {
		return Item{}, err
	}
	if r.Name == nil || strings.TrimSpace(*r.Name) == "" {
		return Item{}, fmt.Errorf("missing name")
	}
	if !r.Type.valid() {
		return Item{}, fmt.Errorf("item %q: unknown type %d", *r.Name, r.Type)
	}
	if r.Type == ItemTypeCard && r.Card == nil {
		return Item{}, fmt.Errorf("item %q: card item without card data", *r.Name)
	}

	fields := make([]Field, 0, len(r.Fields))
	for _, f := range r.Fields {
		if strings.TrimSpace(f.Name) == "" {
			continue
		}
		fields = append(fields, f)
	}

	item := Item{
		Name:   *r.Name,
		Type:   r.Type,
		Notes:  r.Notes,
		Fields: fields,
	}
	if r.Type == ItemTypeCard {
		item.Card = r.Card
	} else if r.Login != nil {
		item.Login = r.Login
	}
	return item, nil
}
