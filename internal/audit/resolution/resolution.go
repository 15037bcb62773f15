// Package resolution implements the third pipeline stage: it drafts
// corrective actions from the template table, produces the supplier
// notification, applies the trust adjustment, and runs the loop decision
// state machine.
package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"verity/internal/audit/models"
	"verity/internal/audit/ports"
)

// TrustBonus is the risk discount applied when both verification
// collaborators report clean status.
const TrustBonus = 0.15

// actionDeadlineDays is the supplier's remediation window.
const actionDeadlineDays = 14

const emailSystemPrompt = `You write formal supplier non-compliance notification emails for an autonomous audit system. The email must:
1. Cite specific EU ESPR 2024/0455 articles
2. List each violation with evidence
3. Specify corrective actions with deadlines
4. Warn of penalty risks (up to 4% of annual EU turnover)
5. Remain professional and factual

Respond with the email body only, no JSON, no subject line.`

// CeilingPolicy decides when the loop ceiling forces escalation. Injected so
// the routing rule is testable apart from the counter arithmetic.
type CeilingPolicy func(loopCount, maxLoops int) bool

// DefaultCeilingPolicy escalates on the final permitted pass.
func DefaultCeilingPolicy(loopCount, maxLoops int) bool {
	return loopCount >= maxLoops-1
}

// Service is the resolution engine stage.
type Service struct {
	reasoner ports.Reasoner
	ceiling  CeilingPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithReasoner attaches the reasoning collaborator for email drafting.
func WithReasoner(r ports.Reasoner) Option {
	return func(s *Service) { s.reasoner = r }
}

// WithCeilingPolicy overrides the loop-ceiling rule.
func WithCeilingPolicy(p CeilingPolicy) Option {
	return func(s *Service) { s.ceiling = p }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the deadline clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds the resolution engine stage.
func New(opts ...Option) *Service {
	s := &Service{
		ceiling: DefaultCeilingPolicy,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the stage in the agent log.
func (s *Service) Name() models.Stage { return models.StageResolution }

// Run executes one resolution pass. The loop counter advances by exactly one
// regardless of the decision.
func (s *Service) Run(ctx context.Context, state models.AuditState) (models.StageUpdate, error) {
	log := []models.AgentLogEntry{
		models.NewLogEntry(models.StageResolution, "RESOLUTION_INITIATED",
			fmt.Sprintf("Processing %d violation(s) (loop %d/%d). Total exposure: EUR %.0f.",
				len(state.Violations), state.LoopCount+1, state.MaxLoops, state.TotalExposureEUR),
			models.LogInfo),
	}

	actions, actionLog := s.draftActions(state)
	log = append(log, actionLog...)

	var email *models.SupplierEmail
	var inTokens, outTokens int
	if len(state.Violations) > 0 {
		var emailLog []models.AgentLogEntry
		email, emailLog, inTokens, outTokens = s.draftEmail(ctx, state, actions)
		log = append(log, emailLog...)
	}

	risk, trustLog := s.trustAdjustment(state)
	log = append(log, trustLog...)

	decision, status, decisionLog := s.decide(state)
	log = append(log, decisionLog...)

	log = append(log, models.NewLogEntry(models.StageResolution, "RESOLUTION_COMPLETE",
		fmt.Sprintf("Decision: %s | Actions: %d | Email: %s | Status: %s",
			decision, len(actions), emailState(email), status),
		models.LogInfo))

	return models.StageUpdate{
		CorrectiveActions: actions,
		SupplierEmail:     email,
		ResolutionStatus:  status,
		LoopDecision:      decision,
		AdvanceLoop:       true,
		RiskScore:         risk,
		Log:               log,
		InputTokens:       inTokens,
		OutputTokens:      outTokens,
	}, nil
}

func (s *Service) draftActions(state models.AuditState) ([]models.CorrectiveAction, []models.AgentLogEntry) {
	findingCategory := make(map[string]models.FindingCategory, len(state.Findings))
	for _, f := range state.Findings {
		findingCategory[f.ID] = f.Category
	}

	deadline := s.now().AddDate(0, 0, actionDeadlineDays).Format("2006-01-02")
	actions := make([]models.CorrectiveAction, 0, len(state.Violations))
	var log []models.AgentLogEntry

	for _, violation := range state.Violations {
		category := findingCategory[violation.FindingRef]
		template := TemplateFor(category)

		actions = append(actions, models.CorrectiveAction{
			ID:                 models.NewID("CA"),
			ViolationRef:       violation.ID,
			Instruction:        template.Instruction,
			Deadline:           deadline,
			ResponsibleParty:   "Supplier " + state.SupplierID,
			VerificationMethod: template.Verification,
			Status:             models.ActionDrafted,
		})

		log = append(log, models.NewLogEntry(models.StageResolution, "ACTION_DRAFTED",
			fmt.Sprintf("Corrective action for %s: %s", category, truncate(template.Instruction, 100)),
			models.LogInfo))
	}
	return actions, log
}

// draftEmail produces the supplier notification. A notification always
// exists when violations do; reasoning failure substitutes the fixed
// template body.
func (s *Service) draftEmail(ctx context.Context, state models.AuditState, actions []models.CorrectiveAction) (*models.SupplierEmail, []models.AgentLogEntry, int, int) {
	to := fmt.Sprintf("compliance@%s.com", strings.ReplaceAll(strings.ToLower(state.SupplierName), " ", "-"))

	body, result, err := s.reasonedEmailBody(ctx, state, actions)
	if err != nil {
		s.logger.Warn("email drafting failed, using template fallback", "error", err)
		email := &models.SupplierEmail{
			To:      to,
			Subject: fmt.Sprintf("URGENT: Non-Compliance Notice - Batch #%s", state.BatchID),
			Body: fmt.Sprintf("Dear %s Compliance Team,\n\nAudit Batch #%s has identified %d violation(s). "+
				"Please review and respond within 72 hours.\n\n- Autonomous Audit System",
				state.SupplierName, state.BatchID, len(state.Violations)),
			Status: models.EmailPendingApproval,
		}
		entry := models.NewLogEntry(models.StageResolution, "EMAIL_FALLBACK",
			"Reasoning unavailable for email draft. Using template fallback to "+to+".",
			models.LogWarning)
		return email, []models.AgentLogEntry{entry}, 0, 0
	}

	email := &models.SupplierEmail{
		To:      to,
		Subject: fmt.Sprintf("URGENT: Non-Compliance Notice - Batch #%s | Supply Chain Audit", state.BatchID),
		Body:    body,
		Status:  models.EmailPendingApproval,
	}
	entry := models.NewLogEntry(models.StageResolution, "NOTIFICATION_DRAFTED",
		fmt.Sprintf("Supplier notification drafted to %s (PENDING_APPROVAL). Cites %d violation(s).",
			to, len(state.Violations)),
		models.LogInfo)
	return email, []models.AgentLogEntry{entry}, result.InputTokens, result.OutputTokens
}

func (s *Service) reasonedEmailBody(ctx context.Context, state models.AuditState, actions []models.CorrectiveAction) (string, ports.ReasonResult, error) {
	if s.reasoner == nil {
		return "", ports.ReasonResult{}, fmt.Errorf("no reasoning collaborator configured")
	}

	payload := map[string]any{
		"supplier_name":      state.SupplierName,
		"batch_id":           state.BatchID,
		"violations":         state.Violations,
		"corrective_actions": actions,
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", ports.ReasonResult{}, err
	}

	result, err := s.reasoner.Reason(ctx, emailSystemPrompt,
		"Draft the notification for this audit outcome:\n\n"+string(encoded), 0.4)
	if err != nil {
		return "", ports.ReasonResult{}, err
	}
	if strings.TrimSpace(result.Text) == "" {
		return "", result, fmt.Errorf("empty email draft")
	}
	return result.Text, result, nil
}

// trustAdjustment applies the verified-supplier discount. Returns a nil
// pointer when no adjustment applies so Apply leaves the score alone.
func (s *Service) trustAdjustment(state models.AuditState) (*float64, []models.AgentLogEntry) {
	registryClean := state.EntityVerification != nil &&
		state.EntityVerification.Status == models.EntityVerified
	intelClean := state.Intelligence != nil &&
		state.Intelligence.RiskTier == models.RiskLow

	if !registryClean || !intelClean || state.OverallRiskScore <= 0 {
		return nil, nil
	}

	adjusted := math.Round(math.Max(0, state.OverallRiskScore-TrustBonus)*100) / 100
	entry := models.NewLogEntry(models.StageResolution, "TRUST_BONUS_APPLIED",
		fmt.Sprintf("Supplier verified in registry and live intelligence is clean. "+
			"Applying %d%% trust bonus reduction to risk score. New score: %.2f.",
			int(TrustBonus*100), adjusted),
		models.LogInfo)
	return &adjusted, []models.AgentLogEntry{entry}
}

// decide runs the loop decision state machine in priority order.
func (s *Service) decide(state models.AuditState) (models.LoopDecision, models.ResolutionStatus, []models.AgentLogEntry) {
	critical := 0
	for _, v := range state.Violations {
		if v.Class == models.ViolationCritical {
			critical++
		}
	}

	switch {
	case len(state.Violations) == 0:
		entry := models.NewLogEntry(models.StageResolution, "AUDIT_RESOLVED",
			"No violations found. Batch is compliant. Audit complete.",
			models.LogInfo)
		return models.LoopResolved, models.ResolutionResolved, []models.AgentLogEntry{entry}

	case s.ceiling(state.LoopCount, state.MaxLoops):
		entry := models.NewLogEntry(models.StageResolution, "ESCALATION_TRIGGERED",
			fmt.Sprintf("Maximum audit loops (%d) reached. Escalating to human compliance officer. "+
				"Total exposure: EUR %.0f.", state.MaxLoops, state.TotalExposureEUR),
			models.LogCritical)
		return models.LoopEscalate, models.ResolutionEscalated, []models.AgentLogEntry{entry}

	case critical > 0:
		entry := models.NewLogEntry(models.StageResolution, "ESCALATION_TRIGGERED",
			fmt.Sprintf("Critical violations detected (%d). Immediate human review required. "+
				"Notification drafted pending approval.", critical),
			models.LogCritical)
		return models.LoopEscalate, models.ResolutionEscalated, []models.AgentLogEntry{entry}

	default:
		entry := models.NewLogEntry(models.StageResolution, "RE_AUDIT_SCHEDULED",
			"Non-critical violations. Corrective actions drafted. Scheduling re-audit.",
			models.LogInfo)
		return models.LoopContinue, models.ResolutionActionPlanDrafted, []models.AgentLogEntry{entry}
	}
}

func emailState(email *models.SupplierEmail) string {
	if email == nil {
		return "N/A"
	}
	return "DRAFTED"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
