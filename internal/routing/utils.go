package routing

import (
	"fmt"
	"strings"
)

// ValidatorFunc represents a validation function
type ValidatorFunc func() error

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// ValidateRequired checks if a field is not empty
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   fieldName,
			Message: "is required",
			Value:   value,
		}
	}
	return nil
}

// ValidateInSet checks if a value is in a set of valid values
func ValidateInSet(value string, validValues []string, fieldName string) error {
	if value == "" {
		return nil // Allow empty values unless required
	}

	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}

	return ValidationError{
		Field:   fieldName,
		Message: fmt.Sprintf("must be one of: %v", validValues),
		Value:   value,
	}
}

// ValidateConnectors checks an action's connector list is non-empty, unique and key-safe
func ValidateConnectors(connectors []string, fieldName string) error {
	if len(connectors) == 0 {
		return ValidationError{Field: fieldName, Message: "must list at least one connector"}
	}

	seen := make(map[string]bool, len(connectors))
	for _, c := range connectors {
		if strings.TrimSpace(c) == "" {
			return ValidationError{Field: fieldName, Message: "must not contain empty connectors", Value: connectors}
		}
		if strings.Contains(c, ":") {
			return ValidationError{Field: fieldName, Message: "connector must not contain ':'", Value: c}
		}
		if seen[c] {
			return ValidationError{Field: fieldName, Message: "must not repeat a connector", Value: c}
		}
		seen[c] = true
	}
	return nil
}

// RunValidators runs multiple validators and returns the first error
func RunValidators(validators ...ValidatorFunc) error {
	for _, validator := range validators {
		if err := validator(); err != nil {
			return err
		}
	}
	return nil
}

// SliceContains checks if a slice contains a value
func SliceContains[T comparable](slice []T, value T) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}

// FilterSlice filters a slice based on a predicate function
func FilterSlice[T any](slice []T, predicate func(T) bool) []T {
	var result []T
	for _, item := range slice {
		if predicate(item) {
			result = append(result, item)
		}
	}
	return result
}
