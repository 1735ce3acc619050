package handlers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/contract"
)

// OutcomeRequest records one outcome directly against an engine
type OutcomeRequest struct {
	Success *bool `json:"success" validate:"required"`
}

// CommitmentRequest is the body of POST /contract/...
type CommitmentRequest struct {
	Committed decimal.Decimal `json:"committed"`
	Period    string          `json:"period" validate:"omitempty,oneof=monthly weekly fixed"`
	// Length is a Go duration string, required for fixed periods
	Length string `json:"length,omitempty"`
}

// FulfillmentRequest is the body of PUT /contract/...
type FulfillmentRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

// Success rate

// GetSuccessRate returns the smoothed success rate of one connector
// @Summary Get connector success rate
// @Tags success-rate
// @Produce json
// @Success 200 {object} successrate.Rate
// @Router /success-rate/{merchant}/{profile}/{connector} [get]
func (h *Handlers) GetSuccessRate(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rate, err := h.successRate.FetchRate(r.Context(), entity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rate)
}

// GetGlobalSuccessRate aggregates every connector of the profile
func (h *Handlers) GetGlobalSuccessRate(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	local, global, err := h.successRate.FetchEntityAndGlobal(r.Context(), entity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity": local,
		"global": global,
	})
}

// GetSuccessRateSnapshot returns the raw window behind a rate
func (h *Handlers) GetSuccessRateSnapshot(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	snapshot, err := h.successRate.Snapshot(r.Context(), entity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// RecordSuccessRate adds one outcome to the connector's window
// @Summary Record a success-rate outcome
// @Tags success-rate
// @Accept json
// @Produce json
// @Param request body OutcomeRequest true "Outcome"
// @Success 200 {object} successrate.Rate
// @Router /success-rate/{merchant}/{profile}/{connector} [post]
func (h *Handlers) RecordSuccessRate(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req OutcomeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rate, err := h.successRate.RecordOutcome(r.Context(), entity, *req.Success)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rate)
}

// InvalidateSuccessRate drops the connector's window
func (h *Handlers) InvalidateSuccessRate(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.successRate.InvalidateWindow(r.Context(), entity); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Elimination

// ListEliminated lists the connectors of a profile in cooldown
// @Summary List eliminated connectors
// @Tags elimination
// @Produce json
// @Success 200 {array} elimination.EliminatedEntity
// @Router /elimination/{merchant}/{profile} [get]
func (h *Handlers) ListEliminated(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	eliminated, err := h.elimination.FetchEliminated(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, eliminated)
}

// GetEliminationStatus returns the health bucket of one connector
func (h *Handlers) GetEliminationStatus(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status, err := h.elimination.Status(r.Context(), entity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// RecordElimination feeds one outcome into the connector's health bucket
func (h *Handlers) RecordElimination(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req OutcomeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	update, err := h.elimination.RecordOutcome(r.Context(), entity, *req.Success)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, update)
}

// InvalidateElimination force-resets the connector to active
func (h *Handlers) InvalidateElimination(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.elimination.Invalidate(r.Context(), entity); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Contract

// GetContractScore returns the connector's contract boost
// @Summary Get contract boost
// @Tags contract
// @Produce json
// @Success 200 {object} contract.Boost
// @Router /contract/{merchant}/{profile}/{connector} [get]
func (h *Handlers) GetContractScore(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	boost, err := h.contract.FetchScore(r.Context(), entity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, boost)
}

// SetCommitment installs the connector's contract terms
// @Summary Set contract commitment
// @Tags contract
// @Accept json
// @Produce json
// @Param request body CommitmentRequest true "Contract terms"
// @Success 200 {object} contract.Score
// @Failure 400 {object} errorResponse "Invalid terms"
// @Router /contract/{merchant}/{profile}/{connector} [post]
func (h *Handlers) SetCommitment(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CommitmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	terms := contract.Terms{Committed: req.Committed, Period: contract.Period(req.Period)}
	if req.Length != "" {
		length, err := time.ParseDuration(req.Length)
		if err != nil {
			h.writeError(w, r, errors.ValidationErrorf(err, "invalid period length %q", req.Length))
			return
		}
		terms.Length = length
	}

	score, err := h.contract.SetCommitment(r.Context(), entity, terms)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, score)
}

// ReportFulfillment adds volume to the connector's current period
func (h *Handlers) ReportFulfillment(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req FulfillmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	score, err := h.contract.ReportFulfillment(r.Context(), entity, req.Delta)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, score)
}

// InvalidateContract removes the connector's contract state
func (h *Handlers) InvalidateContract(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.contract.Invalidate(r.Context(), entity); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
