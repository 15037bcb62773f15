// Package regulatory implements the second pipeline stage: it confirms
// findings as violations against the regulation knowledge base, aggregates
// financial exposure, runs the entity-registry and live-intelligence
// verifications, and derives the compliance verdict.
package regulatory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	dErrors "verity/pkg/domain-errors"

	"verity/internal/audit/models"
	"verity/internal/audit/ports"
)

// RemediationDeadline is the fixed remediation date cited in violations.
const RemediationDeadline = "2026-03-15"

const complianceSystemPrompt = `You are a legal compliance expert specializing in EU ESPR 2024/0455 and the Green Claims Directive 2023/0085.

Evaluate whether the provided audit finding constitutes a violation of the cited regulation. Calculate the penalty risk as a percentage of annual EU turnover (max 4% for CRITICAL violations per Article 68).

RESPOND IN VALID JSON ONLY:
{
  "is_violation": true/false,
  "penalty_risk_pct": 0.0-4.0,
  "legal_reasoning": "string"
}`

type complianceEval struct {
	IsViolation    bool    `json:"is_violation"`
	PenaltyPct     float64 `json:"penalty_risk_pct"`
	LegalReasoning string  `json:"legal_reasoning"`
}

// Service is the regulatory mapper stage.
type Service struct {
	reasoner   ports.Reasoner
	decodeJSON func(text string, v any) error
	verifier   ports.EntityVerifier
	searcher   ports.IntelligenceSearcher
	logger     *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithReasoner attaches the reasoning collaborator for legal refinement.
func WithReasoner(r ports.Reasoner, decode func(text string, v any) error) Option {
	return func(s *Service) {
		s.reasoner = r
		s.decodeJSON = decode
	}
}

// WithVerifier attaches the entity-registry collaborator.
func WithVerifier(v ports.EntityVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithSearcher attaches the live-intelligence collaborator.
func WithSearcher(i ports.IntelligenceSearcher) Option {
	return func(s *Service) { s.searcher = i }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New builds the regulatory mapper stage.
func New(opts ...Option) *Service {
	s := &Service{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the stage in the agent log.
func (s *Service) Name() models.Stage { return models.StageRegulatory }

// Run executes one mapping pass over the current findings.
func (s *Service) Run(ctx context.Context, state models.AuditState) (models.StageUpdate, error) {
	log := []models.AgentLogEntry{
		models.NewLogEntry(models.StageRegulatory, "COMPLIANCE_CHECK_INITIATED",
			fmt.Sprintf("Evaluating %d finding(s) against EU ESPR 2024/0455 & Green Claims Directive.",
				len(state.Findings)),
			models.LogInfo),
	}

	// Verification collaborators run regardless of findings and in parallel
	// with the violation mapping; neither failure aborts the stage.
	var (
		verification *models.EntityVerification
		intelligence *models.IntelligenceReport
		verifyLog    []models.AgentLogEntry
		intelLog     []models.AgentLogEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		verification, verifyLog = s.verifyEntity(gctx, state.SupplierID, state.SupplierName)
		return nil
	})
	g.Go(func() error {
		intelligence, intelLog = s.searchIntelligence(gctx, state.SupplierID, state.SupplierName)
		return nil
	})

	violations := make([]models.Violation, 0, len(state.Findings))
	exposure := 0.0
	var inTokens, outTokens int

	for _, finding := range state.Findings {
		reg, err := Lookup(finding.Category)
		if err != nil {
			// Unmapped categories surface here, once, instead of being
			// silently skipped. The run continues; the gap is on record.
			var de *dErrors.Error
			if errors.As(err, &de) {
				log = append(log, models.NewLogEntry(models.StageRegulatory, "UNMAPPED_CATEGORY",
					de.Message, models.LogError))
			}
			s.logger.Error("finding category has no regulation mapping",
				"category", finding.Category, "finding_id", finding.ID)
			continue
		}

		penaltyPct := reg.PenaltyPct
		penaltyEUR := PenaltyEUR(penaltyPct)
		reasoning := ""

		eval, result, evalErr := s.evaluateCompliance(ctx, finding, reg)
		if evalErr != nil {
			reasoning = "Legal refinement unavailable: " + truncate(evalErr.Error(), 80)
		} else {
			inTokens += result.InputTokens
			outTokens += result.OutputTokens
			if eval.PenaltyPct > 0 && eval.PenaltyPct <= 4.0 {
				penaltyPct = eval.PenaltyPct
				penaltyEUR = PenaltyEUR(penaltyPct)
			}
			reasoning = eval.LegalReasoning
		}

		violation := models.Violation{
			ID:                  models.NewID("VIOL"),
			FindingRef:          finding.ID,
			Regulation:          reg.Citation,
			Class:               models.ClassForSeverity(finding.Severity),
			Description:         finding.Description,
			CitedText:           reg.CitedText,
			PenaltyPct:          penaltyPct,
			PenaltyEUR:          penaltyEUR,
			RemediationDeadline: RemediationDeadline,
			LegalReasoning:      reasoning,
		}
		violations = append(violations, violation)
		exposure += penaltyEUR

		severity := models.LogWarning
		if violation.Class == models.ViolationCritical {
			severity = models.LogCritical
		}
		log = append(log, models.NewLogEntry(models.StageRegulatory, "VIOLATION_CONFIRMED",
			fmt.Sprintf("Violation found: %s. Risk: %g%% revenue fine (EUR %.0f).",
				reg.Citation, penaltyPct, penaltyEUR),
			severity))
	}

	if err := g.Wait(); err != nil {
		return models.StageUpdate{}, err
	}
	log = append(log, verifyLog...)
	log = append(log, intelLog...)

	status, risk, exposure := verdict(state.Findings, violations, state.OverallRiskScore, exposure)

	log = append(log, models.NewLogEntry(models.StageRegulatory, "COMPLIANCE_VERDICT",
		fmt.Sprintf("Verdict: %s. %d violation(s). Total exposure: EUR %.0f.",
			status, len(violations), exposure),
		models.LogInfo))

	return models.StageUpdate{
		Violations:         violations,
		ComplianceStatus:   status,
		ExposureEUR:        &exposure,
		RiskScore:          &risk,
		EntityVerification: verification,
		Intelligence:       intelligence,
		Log:                log,
		InputTokens:        inTokens,
		OutputTokens:       outTokens,
	}, nil
}

// verdict derives the compliance status, adjusted risk, and exposure.
// Rules apply in order, first match wins; an empty finding list overrides
// everything and forces a clean verdict.
func verdict(findings []models.Finding, violations []models.Violation, risk, exposure float64) (models.ComplianceStatus, float64, float64) {
	if len(findings) == 0 {
		return models.ComplianceCompliant, 0, 0
	}

	var critical, major int
	originFraud := false
	for _, v := range violations {
		switch v.Class {
		case models.ViolationCritical:
			critical++
		case models.ViolationMajor:
			major++
		}
		if strings.Contains(v.Regulation, "Article 9(3)") {
			originFraud = true
		}
	}

	largeDrift := false
	for _, f := range findings {
		if f.Category != models.CategoryQuantityDrift {
			continue
		}
		if pct, ok := f.Evidence["drift_percentage"].(float64); ok && pct > 10 {
			largeDrift = true
		}
	}

	switch {
	case originFraud || largeDrift:
		return models.ComplianceNonCompliant, 0.86, ExposureCeilingEUR
	case critical > 0 || major >= 2:
		return models.ComplianceNonCompliant, max(risk, 0.70), exposure
	case len(violations) > 0:
		return models.CompliancePendingReview, max(risk, 0.35), exposure
	default:
		return models.ComplianceCompliant, 0, 0
	}
}

func (s *Service) evaluateCompliance(ctx context.Context, finding models.Finding, reg Regulation) (complianceEval, ports.ReasonResult, error) {
	if s.reasoner == nil {
		return complianceEval{}, ports.ReasonResult{}, errors.New("no reasoning collaborator configured")
	}

	findingJSON, err := json.MarshalIndent(finding, "", "  ")
	if err != nil {
		return complianceEval{}, ports.ReasonResult{}, err
	}

	userMessage := fmt.Sprintf("AUDIT FINDING:\n%s\n\nREGULATION TEXT:\n%s", findingJSON, reg.CitedText)
	result, err := s.reasoner.Reason(ctx, complianceSystemPrompt, userMessage, 0.0)
	if err != nil {
		s.logger.Warn("compliance refinement failed, using knowledge-base defaults", "error", err)
		return complianceEval{}, ports.ReasonResult{}, err
	}

	var eval complianceEval
	if err := s.decodeJSON(result.Text, &eval); err != nil {
		s.logger.Warn("compliance refinement unparseable, using knowledge-base defaults", "error", err)
		return complianceEval{}, result, err
	}
	return eval, result, nil
}

func (s *Service) verifyEntity(ctx context.Context, supplierID, supplierName string) (*models.EntityVerification, []models.AgentLogEntry) {
	if s.verifier == nil {
		return nil, nil
	}
	verification, err := s.verifier.Verify(ctx, supplierID, supplierName, "")
	if err != nil {
		s.logger.Warn("entity verification failed", "error", err)
		return nil, []models.AgentLogEntry{models.NewLogEntry(models.StageRegulatory,
			"REGISTRY_UNAVAILABLE", "Entity registry verification could not be completed.",
			models.LogWarning)}
	}

	var entry models.AgentLogEntry
	switch {
	case verification.Status == models.EntityVerified && len(verification.Records) > 0:
		lei := verification.Records[0]
		entry = models.NewLogEntry(models.StageRegulatory, "REGISTRY_VERIFIED",
			fmt.Sprintf("LEI %s | Status: %s | Jurisdiction: %s | Entity: %s",
				lei.LEI, lei.RegistrationStatus, lei.Jurisdiction, lei.EntityStatus),
			models.LogInfo)
	case verification.Status == models.EntityNoLEIFound:
		entry = models.NewLogEntry(models.StageRegulatory, "REGISTRY_WARNING",
			fmt.Sprintf("No LEI found for %q. Supplier lacks mandatory Legal Entity Identifier.", supplierName),
			models.LogWarning)
	default:
		entry = models.NewLogEntry(models.StageRegulatory, "REGISTRY_FLAGGED",
			fmt.Sprintf("Registry status: %s. Flags: %s.",
				verification.Status, strings.Join(verification.RiskFlags, ", ")),
			models.LogWarning)
	}
	return &verification, []models.AgentLogEntry{entry}
}

func (s *Service) searchIntelligence(ctx context.Context, supplierID, supplierName string) (*models.IntelligenceReport, []models.AgentLogEntry) {
	if s.searcher == nil {
		return nil, nil
	}
	report, err := s.searcher.Search(ctx, supplierID, supplierName, "")
	if err != nil {
		s.logger.Warn("intelligence search failed", "error", err)
		return nil, []models.AgentLogEntry{models.NewLogEntry(models.StageRegulatory,
			"INTEL_UNAVAILABLE", "Live intelligence search could not be completed.",
			models.LogWarning)}
	}

	var entry models.AgentLogEntry
	if report.RiskTier == models.RiskHigh || report.RiskTier == models.RiskCritical {
		entry = models.NewLogEntry(models.StageRegulatory, "SCANDAL_DETECTED",
			fmt.Sprintf("Live intel: %s risk. %s", report.RiskTier, report.Summary),
			models.LogCritical)
	} else {
		entry = models.NewLogEntry(models.StageRegulatory, "LIVE_INTEL_CLEAR",
			fmt.Sprintf("Live intelligence: %s risk. %s", report.RiskTier, report.Summary),
			models.LogInfo)
	}
	return &report, []models.AgentLogEntry{entry}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
