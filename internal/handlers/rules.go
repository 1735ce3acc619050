package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"intelligent-router/internal/models"
	"intelligent-router/internal/routing"
)

// Static routing rules. Every endpoint is scoped to the merchant in the path and
// the optional ?profile= query parameter; without it the rule is merchant-wide.

// EvaluateRequest is the body of POST /rules/{merchant}/evaluate
type EvaluateRequest struct {
	ProfileID  string                   `json:"profile_id"`
	Candidates []string                 `json:"candidates" validate:"required,min=1,dive,required"`
	Attributes models.PaymentAttributes `json:"attributes"`
}

// RuleCheck is the response of POST /rules/{merchant}/validate
type RuleCheck struct {
	Valid     bool     `json:"valid"`
	Operators []string `json:"operators"`
}

// ListRules returns the rules stored under the scope in evaluation order
// @Summary List routing rules
// @Tags rules
// @Produce json
// @Param merchant path string true "Merchant ID"
// @Param profile query string false "Profile ID"
// @Success 200 {array} routing.RoutingRule
// @Router /rules/{merchant} [get]
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	scope, err := ruleScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.rules.ListRules(scope))
}

// CreateRule compiles and stores a routing rule
// @Summary Create routing rule
// @Tags rules
// @Accept json
// @Produce json
// @Param rule body routing.RoutingRule true "Rule"
// @Success 201 {object} routing.RoutingRule
// @Failure 400 {object} errorResponse "Rule rejected"
// @Router /rules/{merchant} [post]
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	scope, err := ruleScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rule := routing.RoutingRule{Scope: scope, Enabled: true}
	if err := h.decode(r, &rule); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.rules.CreateRule(scope, rule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.rules.GetRule(scope, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// GetRule returns one rule
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	scope, err := ruleScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rule, err := h.rules.GetRule(scope, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// UpdateRule replaces one rule
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	scope, err := ruleScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rule := routing.RoutingRule{Scope: scope, Enabled: true}
	if err := h.decode(r, &rule); err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.rules.UpdateRule(scope, mux.Vars(r)["id"], rule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteRule removes one rule
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	scope, err := ruleScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.rules.RemoveRule(scope, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateRule compiles a rule without storing it
// @Summary Validate routing rule
// @Tags rules
// @Accept json
// @Produce json
// @Param rule body routing.RoutingRule true "Rule"
// @Success 200 {object} RuleCheck
// @Failure 400 {object} errorResponse "Rule rejected"
// @Router /rules/{merchant}/validate [post]
func (h *Handlers) ValidateRule(w http.ResponseWriter, r *http.Request) {
	scope, err := ruleScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rule := routing.RoutingRule{Scope: scope, Enabled: true}
	if err := h.decode(r, &rule); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.rules.ValidateRule(rule); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RuleCheck{Valid: true, Operators: routing.GetSupportedOperators()})
}

// EvaluateRules dry-runs the static rules against a payment
// @Summary Evaluate routing rules
// @Tags rules
// @Accept json
// @Produce json
// @Param request body EvaluateRequest true "Payment"
// @Success 200 {object} routing.Hint
// @Router /rules/{merchant}/evaluate [post]
func (h *Handlers) EvaluateRules(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	scope := models.Scope{MerchantID: mux.Vars(r)["merchant"], ProfileID: req.ProfileID}
	if err := scope.Validate(); err != nil {
		h.writeError(w, r, invalidScope(err))
		return
	}
	h.writeJSON(w, http.StatusOK, h.rules.Evaluate(scope, req.Attributes, req.Candidates))
}
