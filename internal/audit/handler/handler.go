// Package handler wires the audit API endpoints to the pipeline and the
// collaborator clients. Transport concerns only; audit logic stays in the
// stage packages.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "verity/pkg/domain-errors"
	"verity/pkg/platform/httputil"

	"verity/internal/audit/models"
	"verity/internal/audit/pipeline"
	"verity/internal/audit/ports"
)

// Runner executes one audit to completion.
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (models.AuditState, error)
}

// Handler exposes the audit API.
type Handler struct {
	runner    Runner
	estimator ports.EmissionsEstimator
	verifier  ports.EntityVerifier
	searcher  ports.IntelligenceSearcher
	logger    *slog.Logger
}

// New constructs the audit handler with its dependencies. The collaborator
// clients back the standalone verification endpoints; any of them may be nil.
func New(runner Runner, estimator ports.EmissionsEstimator, verifier ports.EntityVerifier, searcher ports.IntelligenceSearcher, logger *slog.Logger) *Handler {
	return &Handler{
		runner:    runner,
		estimator: estimator,
		verifier:  verifier,
		searcher:  searcher,
		logger:    logger,
	}
}

// Register mounts the audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/audit/start", h.HandleStartAudit)
	r.Post("/api/emissions/estimate", h.HandleEstimateEmissions)
	r.Post("/api/registry/verify", h.HandleVerifyEntity)
	r.Post("/api/intelligence/search", h.HandleSearchIntelligence)
}

// HandleStartAudit handles POST /api/audit/start. The run is synchronous;
// observers follow progress on the live feed while the response is pending.
func (h *Handler) HandleStartAudit(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[pipeline.RunRequest](w, r)
	if !ok {
		return
	}

	start := time.Now()
	state, err := h.runner.Run(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit run failed",
			"batch_id", req.BatchID,
			"supplier_id", req.SupplierID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "audit run completed",
		"audit_id", state.AuditID,
		"verdict", state.ComplianceStatus,
		"decision", state.LoopDecision,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, state)
}

type estimateRequest struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	WeightKG    float64 `json:"weight_kg"`
	Mode        string  `json:"mode"`
}

// HandleEstimateEmissions handles POST /api/emissions/estimate.
func (h *Handler) HandleEstimateEmissions(w http.ResponseWriter, r *http.Request) {
	if h.estimator == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "emissions estimator not configured"))
		return
	}
	req, ok := httputil.DecodeJSON[estimateRequest](w, r)
	if !ok {
		return
	}
	if req.WeightKG <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "weight_kg must be positive"))
		return
	}

	estimate, err := h.estimator.Estimate(r.Context(), ports.FreightQuery{
		Origin:      req.Origin,
		Destination: req.Destination,
		WeightKG:    req.WeightKG,
		Mode:        req.Mode,
	})
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "emissions estimate failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, estimate)
}

type verifyRequest struct {
	SupplierID   string `json:"supplier_id"`
	SupplierName string `json:"supplier_name"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// HandleVerifyEntity handles POST /api/registry/verify.
func (h *Handler) HandleVerifyEntity(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "entity registry not configured"))
		return
	}
	req, ok := httputil.DecodeJSON[verifyRequest](w, r)
	if !ok {
		return
	}
	if req.SupplierName == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "supplier_name is required"))
		return
	}

	verification, err := h.verifier.Verify(r.Context(), req.SupplierID, req.SupplierName, req.Jurisdiction)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "entity verification failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verification)
}

type searchRequest struct {
	SupplierID   string `json:"supplier_id"`
	SupplierName string `json:"supplier_name"`
	Context      string `json:"context,omitempty"`
}

// HandleSearchIntelligence handles POST /api/intelligence/search.
func (h *Handler) HandleSearchIntelligence(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "intelligence search not configured"))
		return
	}
	req, ok := httputil.DecodeJSON[searchRequest](w, r)
	if !ok {
		return
	}
	if req.SupplierName == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "supplier_name is required"))
		return
	}

	report, err := h.searcher.Search(r.Context(), req.SupplierID, req.SupplierName, req.Context)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "intelligence search failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
