package routing

import (
	"time"

	"intelligent-router/internal/models"
)

// ActionType is what a matching rule does to the candidate set
type ActionType string

const (
	// ActionFilter hard-filters candidates to the listed connectors
	ActionFilter ActionType = "filter"
	// ActionPrefer orders the listed connectors first, in list order
	ActionPrefer ActionType = "prefer"
)

// Action is the effect of a matching rule
type Action struct {
	Type       ActionType `json:"type" validate:"required,oneof=filter prefer"`
	Connectors []string   `json:"connectors" validate:"required,min=1,dive,required"`
}

// RuleCondition is one structured predicate over a payment attribute.
// Attribute is a schema name or metadata.<key>.
type RuleCondition struct {
	Attribute string      `json:"attribute"`
	Operator  string      `json:"operator"`
	Value     interface{} `json:"value,omitempty"`
	Negate    bool        `json:"negate,omitempty"`
}

// RoutingRule is a merchant-authored static routing rule
type RoutingRule struct {
	ID          string          `json:"id"`
	Scope       models.Scope    `json:"scope"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Priority    int             `json:"priority"`
	Enabled     bool            `json:"enabled"`
	Expression  string          `json:"expression,omitempty"`
	Conditions  []RuleCondition `json:"conditions,omitempty"`
	Action      Action          `json:"action"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RuleMatch identifies a rule in an evaluation report
type RuleMatch struct {
	RuleID   string     `json:"rule_id"`
	Name     string     `json:"name,omitempty"`
	Priority int        `json:"priority"`
	Action   ActionType `json:"action"`
}

// SkippedRule is a rule whose program failed on the given attributes
type SkippedRule struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
}

// RuleEngine manages and evaluates static rules
type RuleEngine interface {
	CreateRule(scope models.Scope, rule RoutingRule) (string, error)
	UpdateRule(scope models.Scope, id string, rule RoutingRule) (RoutingRule, error)
	RemoveRule(scope models.Scope, id string) error
	GetRule(scope models.Scope, id string) (RoutingRule, error)
	ListRules(scope models.Scope) []RoutingRule
	Evaluate(scope models.Scope, attrs models.PaymentAttributes, candidates []string) Hint
}
