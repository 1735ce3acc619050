// Package routing implements the static routing engine: merchant-authored
// rules evaluated over a closed schema of payment attributes.
//
// # Rules
//
// A rule matches either a boolean expression or a list of structured
// conditions (AND-ed). Both forms compile to an expr-lang program checked
// against models.PaymentAttributes, so a reference to an unknown attribute or
// a type mismatch is rejected when the rule is created and never stored:
//
//	currency == "USD" && amount >= 10000
//
//	[{"attribute": "currency", "operator": "eq", "value": "USD"},
//	 {"attribute": "amount", "operator": "gte", "value": 10000}]
//
// A matching rule carries one action:
//
//   - filter: restrict the candidates to the listed connectors
//   - prefer: order the listed connectors first, in list order
//
// # Evaluation
//
// Evaluate is a pure function of (rules, attributes, candidates). Rules of the
// profile and merchant-wide rules are walked by priority, highest first, then
// by ID. Filters intersect the allowed set; a lower-priority filter that would
// empty an already restricted set is ignored and reported as a conflict.
// Preferences contribute one component each to a lexicographic rank key, so
// a lower-priority preference only orders connectors a higher one left tied.
// A rule whose program fails on the given attributes is skipped and reported.
package routing
