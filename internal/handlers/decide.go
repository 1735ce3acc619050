package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/models"
	"intelligent-router/internal/orchestrator"
)

// DecideRequest is the body of POST /decide
type DecideRequest struct {
	RequestID  string                   `json:"request_id"`
	MerchantID string                   `json:"merchant_id" validate:"required"`
	ProfileID  string                   `json:"profile_id" validate:"required"`
	Candidates []string                 `json:"candidates" validate:"required,min=1,dive,required"`
	Attributes models.PaymentAttributes `json:"attributes"`
}

// OutcomeAccepted is the body of a 202 from POST /outcomes
type OutcomeAccepted struct {
	Queued bool `json:"queued"`
}

// Decide returns the ordered connector list for one payment
// @Summary Route a payment
// @Tags routing
// @Accept json
// @Produce json
// @Param request body DecideRequest true "Candidates and payment attributes"
// @Success 200 {object} orchestrator.Decision
// @Failure 400 {object} errorResponse "Malformed request"
// @Failure 422 {object} errorResponse "No candidate left after fallback"
// @Router /decide [post]
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = r.Header.Get("X-Request-ID")
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	decision, err := h.orchestrator.Decide(r.Context(), orchestrator.DecisionRequest{
		RequestID:  requestID,
		Scope:      models.Scope{MerchantID: req.MerchantID, ProfileID: req.ProfileID},
		Candidates: req.Candidates,
		Attributes: req.Attributes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, decision)
}

// SubmitOutcome queues one transaction outcome for asynchronous application
// @Summary Report a transaction outcome
// @Tags feedback
// @Accept json
// @Produce json
// @Param event body models.OutcomeEvent true "Outcome"
// @Success 202 {object} OutcomeAccepted
// @Failure 503 {object} errorResponse "Feedback queue full"
// @Router /outcomes [post]
func (h *Handlers) SubmitOutcome(w http.ResponseWriter, r *http.Request) {
	var event models.OutcomeEvent
	if err := h.decode(r, &event); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := event.Validate(); err != nil {
		h.writeError(w, r, errors.ValidationErrorf(err, "invalid outcome"))
		return
	}

	if !h.feedback.Submit(event) {
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:   string(errors.ErrTypeStoreUnavailable),
			Message: "feedback queue is full",
		})
		return
	}

	h.writeJSON(w, http.StatusAccepted, OutcomeAccepted{Queued: true})
}
