package routing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"intelligent-router/internal/models"
)

const metadataPrefix = "metadata."

var supportedOperators = []string{
	"eq", "ne", "in", "not_in", "gt", "gte", "lt", "lte",
	"contains", "starts_with", "ends_with", "regex", "exists",
}

// GetSupportedOperators lists the condition operators
func GetSupportedOperators() []string {
	return append([]string(nil), supportedOperators...)
}

// conditionsToExpression renders AND-ed structured conditions as one expression
func conditionsToExpression(conditions []RuleCondition) (string, error) {
	parts := make([]string, 0, len(conditions))
	for i, condition := range conditions {
		part, err := compileCondition(condition)
		if err != nil {
			return "", fmt.Errorf("condition %d: %w", i, err)
		}
		parts = append(parts, "("+part+")")
	}
	return strings.Join(parts, " && "), nil
}

// resolveAttribute maps a condition attribute to its expression operand and kind
func resolveAttribute(attribute string) (string, models.AttributeKind, error) {
	if strings.HasPrefix(attribute, metadataPrefix) {
		key := strings.TrimPrefix(attribute, metadataPrefix)
		if key == "" {
			return "", "", fmt.Errorf("%w: %q", ErrUnknownAttribute, attribute)
		}
		return "metadata[" + strconv.Quote(key) + "]", models.AttributeString, nil
	}

	kind, ok := models.AttributeSchema[attribute]
	if !ok || kind == models.AttributeMap {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownAttribute, attribute)
	}
	return attribute, kind, nil
}

func compileCondition(condition RuleCondition) (string, error) {
	if err := ValidateInSet(condition.Operator, supportedOperators, "operator"); err != nil || condition.Operator == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOperator, condition.Operator)
	}

	operand, kind, err := resolveAttribute(condition.Attribute)
	if err != nil {
		return "", err
	}

	expression, err := renderCondition(condition, operand, kind)
	if err != nil {
		return "", err
	}
	if condition.Negate {
		expression = "not (" + expression + ")"
	}
	return expression, nil
}

func renderCondition(condition RuleCondition, operand string, kind models.AttributeKind) (string, error) {
	op := condition.Operator

	if op == "exists" {
		if strings.HasPrefix(operand, "metadata[") {
			key := strings.TrimPrefix(condition.Attribute, metadataPrefix)
			return strconv.Quote(key) + " in metadata", nil
		}
		switch kind {
		case models.AttributeNumber:
			return operand + " != 0", nil
		case models.AttributeBool:
			return operand, nil
		default:
			return operand + ` != ""`, nil
		}
	}

	switch op {
	case "eq", "ne":
		literal, err := renderLiteral(condition.Value, kind)
		if err != nil {
			return "", err
		}
		symbol := "=="
		if op == "ne" {
			symbol = "!="
		}
		return operand + " " + symbol + " " + literal, nil

	case "in", "not_in":
		items, err := toList(condition.Value)
		if err != nil {
			return "", err
		}
		literals := make([]string, len(items))
		for i, item := range items {
			literals[i], err = renderLiteral(item, kind)
			if err != nil {
				return "", err
			}
		}
		symbol := "in"
		if op == "not_in" {
			symbol = "not in"
		}
		return operand + " " + symbol + " [" + strings.Join(literals, ", ") + "]", nil

	case "gt", "gte", "lt", "lte":
		if kind != models.AttributeNumber {
			return "", fmt.Errorf("%w: %s requires a numeric attribute", ErrInvalidCondition, op)
		}
		n, err := toFloat64(condition.Value)
		if err != nil {
			return "", fmt.Errorf("%w: %s requires a numeric value", ErrInvalidCondition, op)
		}
		symbols := map[string]string{"gt": ">", "gte": ">=", "lt": "<", "lte": "<="}
		return operand + " " + symbols[op] + " " + strconv.FormatFloat(n, 'f', -1, 64), nil

	case "contains", "starts_with", "ends_with", "regex":
		if kind != models.AttributeString {
			return "", fmt.Errorf("%w: %s requires a string attribute", ErrInvalidCondition, op)
		}
		value, ok := condition.Value.(string)
		if !ok {
			return "", fmt.Errorf("%w: %s requires a string value", ErrInvalidCondition, op)
		}
		if op == "regex" {
			if _, err := regexp.Compile(value); err != nil {
				return "", fmt.Errorf("%w: invalid regex pattern: %v", ErrInvalidCondition, err)
			}
		}
		symbols := map[string]string{
			"contains":    "contains",
			"starts_with": "startsWith",
			"ends_with":   "endsWith",
			"regex":       "matches",
		}
		return operand + " " + symbols[op] + " " + strconv.Quote(value), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedOperator, op)
}

// renderLiteral renders value as an expression literal of the attribute's kind
func renderLiteral(value interface{}, kind models.AttributeKind) (string, error) {
	switch kind {
	case models.AttributeNumber:
		n, err := toFloat64(value)
		if err != nil {
			return "", fmt.Errorf("%w: expected a number, got %v", ErrInvalidCondition, value)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case models.AttributeBool:
		switch v := value.(type) {
		case bool:
			return strconv.FormatBool(v), nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return "", fmt.Errorf("%w: expected a boolean, got %q", ErrInvalidCondition, v)
			}
			return strconv.FormatBool(b), nil
		}
		return "", fmt.Errorf("%w: expected a boolean, got %v", ErrInvalidCondition, value)
	default:
		switch v := value.(type) {
		case string:
			return strconv.Quote(v), nil
		case nil:
			return "", fmt.Errorf("%w: value is required", ErrInvalidCondition)
		default:
			return strconv.Quote(fmt.Sprintf("%v", v)), nil
		}
	}
}

func toList(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: list must not be empty", ErrInvalidCondition)
		}
		return v, nil
	case []string:
		items := make([]interface{}, len(v))
		for i, item := range v {
			items[i] = item
		}
		return toList(items)
	case string:
		// comma-separated values
		parts := strings.Split(v, ",")
		items := make([]interface{}, 0, len(parts))
		for _, item := range parts {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		return toList(items)
	default:
		return nil, fmt.Errorf("%w: 'in' operator requires array or comma-separated string", ErrInvalidCondition)
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}
