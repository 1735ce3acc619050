// Package handlers exposes the routing engines over a thin JSON API.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/contract"
	"intelligent-router/internal/elimination"
	"intelligent-router/internal/feedback"
	"intelligent-router/internal/models"
	"intelligent-router/internal/orchestrator"
	"intelligent-router/internal/routing"
	"intelligent-router/internal/successrate"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Deps are the components served by the API
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Rules        *routing.StaticEngine
	SuccessRate  *successrate.Engine
	Elimination  *elimination.Engine
	Contract     *contract.Engine
	Feedback     *feedback.Processor
	// Metrics serves GET /metrics; the route is omitted when nil
	Metrics http.Handler
	// Checks are run by GET /health, keyed by dependency name
	Checks map[string]HealthCheck
	Logger logging.Logger
}

type Handlers struct {
	orchestrator *orchestrator.Orchestrator
	rules        *routing.StaticEngine
	successRate  *successrate.Engine
	elimination  *elimination.Engine
	contract     *contract.Engine
	feedback     *feedback.Processor
	metrics      http.Handler
	checks       map[string]HealthCheck
	logger       logging.Logger
	validate     *validator.Validate
}

func New(deps Deps) (*Handlers, error) {
	if deps.Orchestrator == nil || deps.Rules == nil || deps.SuccessRate == nil ||
		deps.Elimination == nil || deps.Contract == nil || deps.Feedback == nil {
		return nil, fmt.Errorf("handlers require every routing component")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger().WithFields(logging.Field{"component", "handlers"})
	}

	return &Handlers{
		orchestrator: deps.Orchestrator,
		rules:        deps.Rules,
		successRate:  deps.SuccessRate,
		elimination:  deps.Elimination,
		contract:     deps.Contract,
		feedback:     deps.Feedback,
		metrics:      deps.Metrics,
		checks:       deps.Checks,
		logger:       logger,
		validate:     validator.New(),
	}, nil
}

// RegisterRoutes mounts every endpoint on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics).Methods("GET")
	}

	router.HandleFunc("/decide", h.Decide).Methods("POST")
	router.HandleFunc("/outcomes", h.SubmitOutcome).Methods("POST")

	router.HandleFunc("/success-rate/{merchant}/{profile}/{connector}", h.GetSuccessRate).Methods("GET")
	router.HandleFunc("/success-rate/{merchant}/{profile}/{connector}", h.RecordSuccessRate).Methods("POST")
	router.HandleFunc("/success-rate/{merchant}/{profile}/{connector}", h.InvalidateSuccessRate).Methods("DELETE")
	router.HandleFunc("/success-rate/{merchant}/{profile}/{connector}/global", h.GetGlobalSuccessRate).Methods("GET")
	router.HandleFunc("/success-rate/{merchant}/{profile}/{connector}/snapshot", h.GetSuccessRateSnapshot).Methods("GET")

	router.HandleFunc("/elimination/{merchant}/{profile}", h.ListEliminated).Methods("GET")
	router.HandleFunc("/elimination/{merchant}/{profile}/{connector}", h.GetEliminationStatus).Methods("GET")
	router.HandleFunc("/elimination/{merchant}/{profile}/{connector}", h.RecordElimination).Methods("POST")
	router.HandleFunc("/elimination/{merchant}/{profile}/{connector}", h.InvalidateElimination).Methods("DELETE")

	router.HandleFunc("/contract/{merchant}/{profile}/{connector}", h.GetContractScore).Methods("GET")
	router.HandleFunc("/contract/{merchant}/{profile}/{connector}", h.SetCommitment).Methods("POST")
	router.HandleFunc("/contract/{merchant}/{profile}/{connector}", h.ReportFulfillment).Methods("PUT")
	router.HandleFunc("/contract/{merchant}/{profile}/{connector}", h.InvalidateContract).Methods("DELETE")

	router.HandleFunc("/rules/{merchant}", h.ListRules).Methods("GET")
	router.HandleFunc("/rules/{merchant}", h.CreateRule).Methods("POST")
	router.HandleFunc("/rules/{merchant}/evaluate", h.EvaluateRules).Methods("POST")
	router.HandleFunc("/rules/{merchant}/validate", h.ValidateRule).Methods("POST")
	router.HandleFunc("/rules/{merchant}/{id}", h.GetRule).Methods("GET")
	router.HandleFunc("/rules/{merchant}/{id}", h.UpdateRule).Methods("PUT")
	router.HandleFunc("/rules/{merchant}/{id}", h.DeleteRule).Methods("DELETE")
}

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to encode response", logging.Field{"error", err})
	}
}

// writeError maps the error taxonomy onto HTTP status codes
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("Request failed", err,
			logging.Field{"method", r.Method},
			logging.Field{"path", r.URL.Path},
		)
	}
	h.writeJSON(w, status, errorResponse{Error: string(errors.GetType(err)), Message: err.Error()})
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeExhaustedCandidates:
		return http.StatusUnprocessableEntity
	case errors.ErrTypeStoreUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst and runs its validate tags
func (h *Handlers) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.ValidationErrorf(err, "invalid request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return errors.ValidationErrorf(err, "invalid request")
	}
	return nil
}

// entityFromPath builds the entity addressed by {merchant}/{profile}/{connector}
func entityFromPath(r *http.Request) (models.RoutableEntity, error) {
	vars := mux.Vars(r)
	entity := models.NewEntity(vars["merchant"], vars["profile"], vars["connector"])
	if err := entity.Validate(); err != nil {
		return models.RoutableEntity{}, errors.ValidationErrorf(err, "invalid entity")
	}
	return entity, nil
}

// scopeFromPath builds the scope addressed by {merchant}/{profile}
func scopeFromPath(r *http.Request) (models.Scope, error) {
	vars := mux.Vars(r)
	scope := models.Scope{MerchantID: vars["merchant"], ProfileID: vars["profile"]}
	if err := scope.Validate(); err != nil {
		return models.Scope{}, invalidScope(err)
	}
	return scope, nil
}

// ruleScope is the merchant from the path narrowed by the optional profile query parameter
func ruleScope(r *http.Request) (models.Scope, error) {
	scope := models.Scope{MerchantID: mux.Vars(r)["merchant"], ProfileID: r.URL.Query().Get("profile")}
	if err := scope.Validate(); err != nil {
		return models.Scope{}, invalidScope(err)
	}
	return scope, nil
}

func invalidScope(err error) error {
	return errors.ValidationErrorf(err, "invalid scope")
}
