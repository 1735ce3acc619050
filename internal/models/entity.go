// Package models holds the identities and payloads shared by the routing engines.
package models

import (
	"fmt"
	"strings"
)

// KeySeparator joins the parts of entity and scope keys
const KeySeparator = ":"

// RoutableEntity identifies one routing target. It is the key of every piece of
// per-connector state.
type RoutableEntity struct {
	MerchantID     string `json:"merchant_id" validate:"required"`
	ProfileID      string `json:"profile_id" validate:"required"`
	ConnectorLabel string `json:"connector" validate:"required"`
}

// NewEntity builds an entity from its parts
func NewEntity(merchantID, profileID, connector string) RoutableEntity {
	return RoutableEntity{MerchantID: merchantID, ProfileID: profileID, ConnectorLabel: connector}
}

// Key renders merchant:profile:connector
func (e RoutableEntity) Key() string {
	return e.MerchantID + KeySeparator + e.ProfileID + KeySeparator + e.ConnectorLabel
}

// Scope returns the merchant/profile scope the entity belongs to
func (e RoutableEntity) Scope() Scope {
	return Scope{MerchantID: e.MerchantID, ProfileID: e.ProfileID}
}

func (e RoutableEntity) String() string {
	return e.Key()
}

// Validate rejects empty parts and parts that would corrupt the key layout
func (e RoutableEntity) Validate() error {
	parts := []struct{ name, value string }{
		{"merchant_id", e.MerchantID},
		{"profile_id", e.ProfileID},
		{"connector", e.ConnectorLabel},
	}
	for _, p := range parts {
		if err := validateKeyPart(p.name, p.value); err != nil {
			return err
		}
	}
	return nil
}

// ParseEntityKey is the inverse of Key
func ParseEntityKey(key string) (RoutableEntity, error) {
	parts := strings.Split(key, KeySeparator)
	if len(parts) != 3 {
		return RoutableEntity{}, fmt.Errorf("malformed entity key %q", key)
	}
	entity := NewEntity(parts[0], parts[1], parts[2])
	if err := entity.Validate(); err != nil {
		return RoutableEntity{}, err
	}
	return entity, nil
}

// Scope is a merchant, optionally narrowed to one profile. An empty ProfileID
// means every profile of the merchant.
type Scope struct {
	MerchantID string `json:"merchant_id" validate:"required"`
	ProfileID  string `json:"profile_id,omitempty"`
}

// Key renders merchant:profile, or merchant alone for a merchant-wide scope
func (s Scope) Key() string {
	if s.ProfileID == "" {
		return s.MerchantID
	}
	return s.MerchantID + KeySeparator + s.ProfileID
}

// Prefix is the key prefix shared by every entity under the scope
func (s Scope) Prefix() string {
	return s.Key() + KeySeparator
}

// MerchantWide reports whether the scope covers every profile
func (s Scope) MerchantWide() bool {
	return s.ProfileID == ""
}

// Contains reports whether entity falls under the scope
func (s Scope) Contains(entity RoutableEntity) bool {
	if entity.MerchantID != s.MerchantID {
		return false
	}
	return s.ProfileID == "" || entity.ProfileID == s.ProfileID
}

// Entity builds the entity for connector under this scope
func (s Scope) Entity(connector string) RoutableEntity {
	return NewEntity(s.MerchantID, s.ProfileID, connector)
}

func (s Scope) String() string {
	return s.Key()
}

// Validate checks the merchant is present and no part contains the separator
func (s Scope) Validate() error {
	if err := validateKeyPart("merchant_id", s.MerchantID); err != nil {
		return err
	}
	if s.ProfileID != "" {
		return validateKeyPart("profile_id", s.ProfileID)
	}
	return nil
}

func validateKeyPart(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	if strings.Contains(value, KeySeparator) {
		return fmt.Errorf("%s must not contain %q", name, KeySeparator)
	}
	return nil
}
