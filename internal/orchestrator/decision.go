package orchestrator

import (
	"time"

	"intelligent-router/internal/elimination"
	"intelligent-router/internal/models"
	"intelligent-router/internal/routing"
	"intelligent-router/internal/successrate"
)

// Engine names used in degraded lists and metrics
const (
	EngineSuccessRate = "success_rate"
	EngineElimination = "elimination"
	EngineContract    = "contract"
)

// Exclusion reasons
const (
	ReasonStaticFilter = "static_filter"
	ReasonEliminated   = "eliminated"
)

// DecisionRequest asks for an ordering of candidate connectors
type DecisionRequest struct {
	RequestID  string                   `json:"request_id"`
	Scope      models.Scope             `json:"scope" validate:"required"`
	Candidates []string                 `json:"candidates"`
	Attributes models.PaymentAttributes `json:"attributes"`
}

// Rationale records every contribution to a candidate's position
type Rationale struct {
	StaticAllowed bool     `json:"static_allowed"`
	StaticRank    []int    `json:"static_rank,omitempty"`
	Rules         []string `json:"rules,omitempty"`

	SuccessRate successrate.Rate `json:"success_rate"`

	EliminationState elimination.State `json:"elimination_state"`
	Eliminated       bool              `json:"eliminated"`
	CooldownUntil    *time.Time        `json:"cooldown_until,omitempty"`

	ContractBoost float64 `json:"contract_boost"`
	NoContract    bool    `json:"no_contract,omitempty"`

	// Relaxed names the exclusions lifted to keep this candidate
	Relaxed []string `json:"relaxed,omitempty"`
}

// Entry is one routable candidate of a decision
type Entry struct {
	Connector string                `json:"connector"`
	Entity    models.RoutableEntity `json:"entity"`
	Score     float64               `json:"score"`
	Rationale Rationale             `json:"rationale"`
}

// Exclusion is a candidate left out of a decision
type Exclusion struct {
	Connector string    `json:"connector"`
	Reason    string    `json:"reason"`
	Rationale Rationale `json:"rationale"`
}

// Decision is the ordered answer to a DecisionRequest
type Decision struct {
	RequestID string      `json:"request_id"`
	Entries   []Entry     `json:"entries"`
	Excluded  []Exclusion `json:"excluded,omitempty"`
	// Degraded lists engines whose contribution was replaced by neutral defaults
	Degraded []string `json:"degraded,omitempty"`
	// Relaxed lists the exclusions lifted to return a non-empty decision
	Relaxed  []string `json:"relaxed,omitempty"`
	Explored bool     `json:"explored,omitempty"`

	MatchedRules   []routing.RuleMatch   `json:"matched_rules,omitempty"`
	ConflictRules  []routing.RuleMatch   `json:"conflict_rules,omitempty"`
	SkippedRules   []routing.SkippedRule `json:"skipped_rules,omitempty"`
	DecisionTimeMS float64               `json:"decision_time_ms"`
}

// Connectors returns the decision's connectors in routing order
func (d *Decision) Connectors() []string {
	connectors := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		connectors[i] = e.Connector
	}
	return connectors
}

// OutcomeResult reports the state changes applied for one outcome
type OutcomeResult struct {
	SuccessRate successrate.Rate   `json:"success_rate"`
	Elimination elimination.Update `json:"elimination"`
	// ContractFulfilled is the fulfilled volume after the update, when the outcome counted
	ContractFulfilled string `json:"contract_fulfilled,omitempty"`
}
