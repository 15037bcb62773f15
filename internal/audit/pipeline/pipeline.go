// Package pipeline implements the audit orchestrator: the finite-state
// sequence Correlator -> Mapper -> Resolution with a bounded loop-back edge.
// Stages are pure with respect to the state snapshot; the orchestrator owns
// merging, log publication, and the iteration ceiling.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dErrors "verity/pkg/domain-errors"

	"verity/internal/audit/metrics"
	"verity/internal/audit/models"
)

// DefaultMaxLoops bounds the self-healing loop when the request does not
// specify a ceiling.
const DefaultMaxLoops = 3

// maxLoopsCap is the hard upper bound a request can ask for.
const maxLoopsCap = 10

// Stage is one pipeline stage. Run must not mutate the state snapshot; all
// effects flow back through the returned update.
type Stage interface {
	Name() models.Stage
	Run(ctx context.Context, state models.AuditState) (models.StageUpdate, error)
}

// LogPublisher receives appended agent-log entries, best-effort.
type LogPublisher interface {
	Publish(auditID string, entries ...models.AgentLogEntry)
}

// RunRequest is the entry-point payload for one audit run.
type RunRequest struct {
	BatchID      string               `json:"batch_id"`
	SupplierID   string               `json:"supplier_id"`
	SupplierName string               `json:"supplier_name"`
	Documents    []string             `json:"documents,omitempty"`
	Extracted    []models.RawDocument `json:"extracted_data,omitempty"`
	MaxLoops     int                  `json:"max_loops,omitempty"`
}

// Validate checks request invariants and normalizes the loop ceiling.
func (r *RunRequest) Validate() error {
	if r.BatchID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "batch_id is required")
	}
	if r.SupplierID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "supplier_id is required")
	}
	if r.SupplierName == "" {
		return dErrors.New(dErrors.CodeBadRequest, "supplier_name is required")
	}
	if r.MaxLoops < 0 || r.MaxLoops > maxLoopsCap {
		return dErrors.New(dErrors.CodeBadRequest,
			fmt.Sprintf("max_loops must be between 1 and %d", maxLoopsCap))
	}
	if r.MaxLoops == 0 {
		r.MaxLoops = DefaultMaxLoops
	}
	return nil
}

// Pipeline sequences the three audit stages.
type Pipeline struct {
	correlator Stage
	mapper     Stage
	resolver   Stage

	publisher LogPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	defaultMaxLoops int
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithPublisher attaches the live-feed publisher. Publication is
// fire-and-forget; a slow or absent observer never blocks a run.
func WithPublisher(p LogPublisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(pl *Pipeline) { pl.logger = logger }
}

// WithDefaultMaxLoops overrides the loop ceiling applied to requests that do
// not specify one.
func WithDefaultMaxLoops(n int) Option {
	return func(pl *Pipeline) {
		if n > 0 && n <= maxLoopsCap {
			pl.defaultMaxLoops = n
		}
	}
}

// New builds the orchestrator over its three stages, in pass order.
func New(correlator, mapper, resolver Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		correlator:      correlator,
		mapper:          mapper,
		resolver:        resolver,
		logger:          slog.Default(),
		defaultMaxLoops: DefaultMaxLoops,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one audit to a terminal state and returns the final snapshot.
// Collaborator failures never surface here; the only error paths are request
// validation and an unrecoverable stage failure.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (models.AuditState, error) {
	if req.MaxLoops == 0 {
		req.MaxLoops = p.defaultMaxLoops
	}
	if err := req.Validate(); err != nil {
		return models.AuditState{}, err
	}

	start := time.Now()
	if p.metrics != nil {
		p.metrics.IncrementRunsStarted()
	}

	state := models.NewAuditState(req.BatchID, req.SupplierID, req.SupplierName,
		req.Documents, req.Extracted, req.MaxLoops)

	p.logger.Info("audit run started",
		"audit_id", state.AuditID,
		"supplier_id", state.SupplierID,
		"documents", len(state.Documents),
		"max_loops", state.MaxLoops)

	state = p.apply(state, models.StageUpdate{Log: []models.AgentLogEntry{
		models.NewLogEntry(models.StageSystem, "AUDIT_STARTED",
			fmt.Sprintf("Audit %s started for supplier %s (%s). Loop ceiling: %d.",
				state.AuditID, state.SupplierName, state.SupplierID, state.MaxLoops),
			models.LogInfo),
	}})

	for {
		var err error
		state, err = p.runPass(ctx, state)
		if err != nil {
			return state, err
		}
		if p.metrics != nil {
			p.metrics.IncrementLoopPasses()
		}
		if !state.CanReenter() {
			break
		}
	}

	state = p.apply(state, models.StageUpdate{Log: []models.AgentLogEntry{
		models.NewLogEntry(models.StageSystem, "AUDIT_COMPLETE",
			fmt.Sprintf("Audit %s finished after %d pass(es). Verdict: %s. Decision: %s.",
				state.AuditID, state.LoopCount, state.ComplianceStatus, state.LoopDecision),
			models.LogInfo),
	}})

	if p.metrics != nil {
		p.metrics.IncrementRunsCompleted(string(state.ComplianceStatus))
		p.metrics.ObserveRunDuration(start)
	}
	p.logger.Info("audit run finished",
		"audit_id", state.AuditID,
		"verdict", state.ComplianceStatus,
		"decision", state.LoopDecision,
		"passes", state.LoopCount,
		"exposure_eur", state.TotalExposureEUR,
		"risk", state.OverallRiskScore)

	return state, nil
}

// runPass executes the three stages strictly sequentially: each stage's
// merged output is the next stage's input.
func (p *Pipeline) runPass(ctx context.Context, state models.AuditState) (models.AuditState, error) {
	for _, stage := range []Stage{p.correlator, p.mapper, p.resolver} {
		update, err := stage.Run(ctx, state)
		if err != nil {
			p.logger.Error("stage failed", "stage", stage.Name(), "audit_id", state.AuditID, "error", err)
			return state, dErrors.Wrap(err, dErrors.CodeInternal,
				fmt.Sprintf("stage %s failed", stage.Name()))
		}
		if p.metrics != nil && update.Findings != nil && stage.Name() == models.StageCorrelator {
			for _, f := range update.Findings {
				p.metrics.IncrementFindings(string(f.Category))
			}
		}
		state = p.apply(state, update)
	}
	return state, nil
}

// apply merges an update and publishes its log entries in append order.
func (p *Pipeline) apply(state models.AuditState, update models.StageUpdate) models.AuditState {
	next := state.Apply(update)
	if p.publisher != nil && len(update.Log) > 0 {
		p.publisher.Publish(next.AuditID, update.Log...)
	}
	return next
}
