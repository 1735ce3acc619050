package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeEvent is emitted by the transaction layer for every completed attempt
type OutcomeEvent struct {
	Entity    RoutableEntity  `json:"entity" validate:"required"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Validate checks the event can be applied to routing state
func (e OutcomeEvent) Validate() error {
	if err := e.Entity.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative")
	}
	return nil
}
