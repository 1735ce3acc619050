package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/models"
)

// compiledRule pairs a stored rule with its program
type compiledRule struct {
	rule    RoutingRule
	program *vm.Program
}

// StaticEngine implements RuleEngine with rules held in memory per scope
type StaticEngine struct {
	mu     sync.RWMutex
	rules  map[string]map[string]*compiledRule
	cache  *programCache
	now    func() time.Time
	logger logging.Logger
}

// StaticOption configures a StaticEngine
type StaticOption func(*StaticEngine)

// WithClock replaces time.Now for rule timestamps
func WithClock(now func() time.Time) StaticOption {
	return func(e *StaticEngine) { e.now = now }
}

// WithLogger sets the engine logger
func WithLogger(logger logging.Logger) StaticOption {
	return func(e *StaticEngine) { e.logger = logger }
}

// WithProgramTTL sets how long compiled programs stay shareable in the cache
func WithProgramTTL(ttl time.Duration) StaticOption {
	return func(e *StaticEngine) { e.cache = newProgramCache(ttl) }
}

// NewStaticEngine creates an empty static routing engine
func NewStaticEngine(opts ...StaticOption) *StaticEngine {
	e := &StaticEngine{
		rules: make(map[string]map[string]*compiledRule),
		cache: newProgramCache(30 * time.Minute),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.GetGlobalLogger().WithFields(logging.Field{"component", "routing"})
	}
	return e
}

// CreateRule validates and compiles rule and stores it under scope.
// Invalid rules are rejected with a validation error and never stored.
func (e *StaticEngine) CreateRule(scope models.Scope, rule RoutingRule) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", errors.ValidationErrorf(err, "invalid rule scope")
	}

	rule.Scope = scope
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	compiled, err := e.compile(rule)
	if err != nil {
		return "", err
	}

	now := e.now()
	compiled.rule.CreatedAt = now
	compiled.rule.UpdatedAt = now

	e.mu.Lock()
	defer e.mu.Unlock()

	scoped := e.rules[scope.Key()]
	if scoped == nil {
		scoped = make(map[string]*compiledRule)
		e.rules[scope.Key()] = scoped
	}
	if _, exists := scoped[rule.ID]; exists {
		return "", errors.ValidationErrorf(ErrDuplicateRule, "rule %s already exists", rule.ID)
	}
	scoped[rule.ID] = compiled

	e.logger.Info("Routing rule created",
		logging.Field{"scope", scope.Key()},
		logging.Field{"rule_id", rule.ID},
		logging.Field{"priority", rule.Priority},
		logging.Field{"action", string(rule.Action.Type)},
	)
	return rule.ID, nil
}

// UpdateRule replaces the rule id under scope, keeping its creation time
func (e *StaticEngine) UpdateRule(scope models.Scope, id string, rule RoutingRule) (RoutingRule, error) {
	rule.ID = id
	rule.Scope = scope

	compiled, err := e.compile(rule)
	if err != nil {
		return RoutingRule{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.rules[scope.Key()][id]
	if !ok {
		return RoutingRule{}, notFound(id)
	}
	compiled.rule.CreatedAt = existing.rule.CreatedAt
	compiled.rule.UpdatedAt = e.now()
	e.rules[scope.Key()][id] = compiled

	return copyRule(compiled.rule), nil
}

// RemoveRule deletes the rule id under scope
func (e *StaticEngine) RemoveRule(scope models.Scope, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	scoped := e.rules[scope.Key()]
	if _, ok := scoped[id]; !ok {
		return notFound(id)
	}
	delete(scoped, id)
	if len(scoped) == 0 {
		delete(e.rules, scope.Key())
	}
	return nil
}

// GetRule returns the rule id under scope
func (e *StaticEngine) GetRule(scope models.Scope, id string) (RoutingRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	compiled, ok := e.rules[scope.Key()][id]
	if !ok {
		return RoutingRule{}, notFound(id)
	}
	return copyRule(compiled.rule), nil
}

// ListRules returns the rules stored under exactly scope in evaluation order
func (e *StaticEngine) ListRules(scope models.Scope) []RoutingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	compiled := make([]*compiledRule, 0, len(e.rules[scope.Key()]))
	for _, c := range e.rules[scope.Key()] {
		compiled = append(compiled, c)
	}
	sortRules(compiled)

	rules := make([]RoutingRule, len(compiled))
	for i, c := range compiled {
		rules[i] = copyRule(c.rule)
	}
	return rules
}

// applicable returns the profile's and the merchant-wide rules in evaluation order
func (e *StaticEngine) applicable(scope models.Scope) []*compiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var rules []*compiledRule
	for _, c := range e.rules[scope.Key()] {
		rules = append(rules, c)
	}
	if !scope.MerchantWide() {
		merchant := models.Scope{MerchantID: scope.MerchantID}
		for _, c := range e.rules[merchant.Key()] {
			rules = append(rules, c)
		}
	}
	sortRules(rules)
	return rules
}

// sortRules orders by priority descending, then ID; merchant-wide rules
// sharing an ID with a profile rule come after it
func sortRules(rules []*compiledRule) {
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i].rule, rules[j].rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Scope.ProfileID > b.Scope.ProfileID
	})
}

// Evaluate applies the applicable rules to candidates. It has no side effects:
// identical rules, attributes and candidates always yield an identical hint.
func (e *StaticEngine) Evaluate(scope models.Scope, attrs models.PaymentAttributes, candidates []string) Hint {
	hint := Hint{
		Allowed:  append([]string(nil), candidates...),
		RankKeys: make(map[string][]int, len(candidates)),
		RuleHits: make(map[string][]string),
	}

	for _, c := range e.applicable(scope) {
		rule := c.rule
		if !rule.Enabled {
			continue
		}

		matched, err := run(c.program, attrs)
		if err != nil {
			hint.Skipped = append(hint.Skipped, SkippedRule{RuleID: rule.ID, Error: err.Error()})
			continue
		}
		if !matched {
			continue
		}

		match := RuleMatch{RuleID: rule.ID, Name: rule.Name, Priority: rule.Priority, Action: rule.Action.Type}
		switch rule.Action.Type {
		case ActionFilter:
			if !applyFilter(&hint, rule) {
				hint.Conflicts = append(hint.Conflicts, match)
				continue
			}
		case ActionPrefer:
			applyPreference(&hint, rule, candidates)
		}
		hint.Matched = append(hint.Matched, match)
	}

	for _, c := range candidates {
		if !SliceContains(hint.Allowed, c) {
			hint.Filtered = append(hint.Filtered, c)
		}
	}
	return hint
}

// applyFilter intersects the allowed set with the rule's connectors. A filter
// that would empty a set some higher-priority filter already restricted is
// not applied and false is returned.
func applyFilter(hint *Hint, rule RoutingRule) bool {
	allowed := FilterSlice(hint.Allowed, func(c string) bool {
		return SliceContains(rule.Action.Connectors, c)
	})
	if len(allowed) == 0 && hint.Restricted {
		return false
	}

	hint.Allowed = allowed
	hint.Restricted = true
	for _, c := range allowed {
		hint.RuleHits[c] = append(hint.RuleHits[c], rule.ID)
	}
	return true
}

// applyPreference appends one rank-key component per candidate: the position
// in the rule's list, or the list length for unlisted connectors
func applyPreference(hint *Hint, rule RoutingRule, candidates []string) {
	position := make(map[string]int, len(rule.Action.Connectors))
	for i, c := range rule.Action.Connectors {
		position[c] = i
	}

	for _, c := range candidates {
		rank, listed := position[c]
		if !listed {
			rank = len(rule.Action.Connectors)
		} else {
			hint.RuleHits[c] = append(hint.RuleHits[c], rule.ID)
		}
		hint.RankKeys[c] = append(hint.RankKeys[c], rank)
	}
}

// ValidateRule checks and compiles rule without storing it
func (e *StaticEngine) ValidateRule(rule RoutingRule) error {
	if rule.ID == "" {
		rule.ID = "draft"
	}
	_, err := e.compile(rule)
	return err
}

func (e *StaticEngine) compile(rule RoutingRule) (*compiledRule, error) {
	hasExpression := strings.TrimSpace(rule.Expression) != ""
	hasConditions := len(rule.Conditions) > 0

	err := RunValidators(
		func() error { return ValidateRequired(rule.ID, "id") },
		func() error { return ValidateRequired(rule.Name, "name") },
		func() error {
			if strings.Contains(rule.ID, ":") {
				return ValidationError{Field: "id", Message: "must not contain ':'", Value: rule.ID}
			}
			return nil
		},
		func() error {
			if hasExpression == hasConditions {
				return ValidationError{Field: "expression", Message: "exactly one of expression or conditions is required"}
			}
			return nil
		},
		func() error {
			if err := ValidateRequired(string(rule.Action.Type), "action.type"); err != nil {
				return err
			}
			return ValidateInSet(string(rule.Action.Type), []string{string(ActionFilter), string(ActionPrefer)}, "action.type")
		},
		func() error { return ValidateConnectors(rule.Action.Connectors, "action.connectors") },
	)
	if err != nil {
		return nil, errors.ValidationErrorf(fmt.Errorf("%w: %w", ErrInvalidRule, err), "invalid routing rule: %v", err)
	}

	expression := rule.Expression
	if hasConditions {
		expression, err = conditionsToExpression(rule.Conditions)
		if err != nil {
			return nil, errors.ValidationErrorf(err, "invalid rule conditions: %v", err)
		}
	}

	program, err := e.cache.compile(expression)
	if err != nil {
		return nil, errors.ValidationErrorf(err, "invalid rule expression: %v", err)
	}

	return &compiledRule{rule: copyRule(rule), program: program}, nil
}

func copyRule(rule RoutingRule) RoutingRule {
	rule.Conditions = append([]RuleCondition(nil), rule.Conditions...)
	rule.Action.Connectors = append([]string(nil), rule.Action.Connectors...)
	return rule
}

func notFound(id string) error {
	err := errors.NotFoundError("routing rule " + id)
	err.Cause = ErrRuleNotFound
	return err
}

var _ RuleEngine = (*StaticEngine)(nil)
