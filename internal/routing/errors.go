package routing

import "errors"

var (
	// ErrRuleNotFound is returned when a routing rule is not found
	ErrRuleNotFound = errors.New("routing rule not found")

	// ErrInvalidRule is returned when a routing rule is invalid
	ErrInvalidRule = errors.New("invalid routing rule")

	// ErrInvalidCondition is returned when a rule condition is invalid
	ErrInvalidCondition = errors.New("invalid rule condition")

	// ErrUnsupportedOperator is returned when an unsupported operator is used
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnknownAttribute is returned when a condition names an attribute outside the schema
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrRuleCompilationFailed is returned when rule compilation fails
	ErrRuleCompilationFailed = errors.New("rule compilation failed")

	// ErrDuplicateRule is returned when creating a rule whose ID already exists
	ErrDuplicateRule = errors.New("routing rule already exists")
)
