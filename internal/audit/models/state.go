package models

import (
	"time"
)

// AuditState is the single unit of work threaded through the pipeline. It is
// treated as an immutable snapshot: stages never mutate it, they return a
// StageUpdate that Apply merges into a fresh copy.
type AuditState struct {
	AuditID      string    `json:"audit_id"`
	BatchID      string    `json:"batch_id"`
	SupplierID   string    `json:"supplier_id"`
	SupplierName string    `json:"supplier_name"`
	StartedAt    time.Time `json:"started_at"`

	Documents []string      `json:"documents,omitempty"`
	Extracted []RawDocument `json:"extracted_data,omitempty"`

	Findings         []Finding `json:"findings"`
	OverallRiskScore float64   `json:"overall_risk_score"`

	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	Violations       []Violation      `json:"violations"`
	TotalExposureEUR float64          `json:"total_financial_exposure_eur"`

	CorrectiveActions []CorrectiveAction `json:"corrective_actions"`
	SupplierEmail     *SupplierEmail     `json:"supplier_email,omitempty"`
	ResolutionStatus  ResolutionStatus   `json:"resolution_status"`

	LoopCount    int          `json:"loop_count"`
	MaxLoops     int          `json:"max_loops"`
	LoopDecision LoopDecision `json:"loop_decision"`

	AgentLog []AgentLogEntry `json:"agent_log"`

	Emissions          *EmissionEstimate   `json:"emissions_data,omitempty"`
	EntityVerification *EntityVerification `json:"entity_verification,omitempty"`
	Intelligence       *IntelligenceReport `json:"live_intelligence,omitempty"`

	InputTokens  int `json:"total_input_tokens"`
	OutputTokens int `json:"total_output_tokens"`
}

// NewAuditState creates the initial state for one audit run.
func NewAuditState(batchID, supplierID, supplierName string, documents []string, extracted []RawDocument, maxLoops int) AuditState {
	return AuditState{
		AuditID:          "AUDIT-" + batchID,
		BatchID:          batchID,
		SupplierID:       supplierID,
		SupplierName:     supplierName,
		StartedAt:        time.Now().UTC(),
		Documents:        documents,
		Extracted:        extracted,
		ComplianceStatus: CompliancePending,
		ResolutionStatus: ResolutionPending,
		LoopDecision:     LoopPending,
		MaxLoops:         maxLoops,
	}
}

// StageUpdate is the partial record a stage returns. Nil slice and pointer
// fields mean "unchanged"; a non-nil empty Findings slice clears findings
// (the correlator recomputes them every pass). Log is append-only: entries
// are added after the existing log, never merged into it.
type StageUpdate struct {
	Findings  []Finding
	RiskScore *float64
	Emissions *EmissionEstimate

	Violations         []Violation
	ComplianceStatus   ComplianceStatus
	ExposureEUR        *float64
	EntityVerification *EntityVerification
	Intelligence       *IntelligenceReport

	CorrectiveActions []CorrectiveAction
	SupplierEmail     *SupplierEmail
	ResolutionStatus  ResolutionStatus
	LoopDecision      LoopDecision

	// AdvanceLoop increments the loop counter by exactly one. Only the
	// resolution engine sets it, once per pass.
	AdvanceLoop bool

	Log []AgentLogEntry

	InputTokens  int
	OutputTokens int
}

// Apply merges an update into a copy of the state. Invariants enforced here
// regardless of what a stage returns: the risk score stays in [0,1], total
// exposure never goes negative, and the agent log only ever grows.
func (s AuditState) Apply(u StageUpdate) AuditState {
	next := s

	if u.Findings != nil {
		next.Findings = u.Findings
	}
	if u.RiskScore != nil {
		next.OverallRiskScore = clamp01(*u.RiskScore)
	}
	if u.Emissions != nil {
		next.Emissions = u.Emissions
	}
	if u.Violations != nil {
		next.Violations = u.Violations
	}
	if u.ComplianceStatus != "" {
		next.ComplianceStatus = u.ComplianceStatus
	}
	if u.ExposureEUR != nil {
		next.TotalExposureEUR = max(0, *u.ExposureEUR)
	}
	if u.EntityVerification != nil {
		next.EntityVerification = u.EntityVerification
	}
	if u.Intelligence != nil {
		next.Intelligence = u.Intelligence
	}
	if u.CorrectiveActions != nil {
		next.CorrectiveActions = u.CorrectiveActions
	}
	if u.SupplierEmail != nil {
		next.SupplierEmail = u.SupplierEmail
	}
	if u.ResolutionStatus != "" {
		next.ResolutionStatus = u.ResolutionStatus
	}
	if u.LoopDecision != "" {
		next.LoopDecision = u.LoopDecision
	}
	if u.AdvanceLoop {
		next.LoopCount = s.LoopCount + 1
	}
	if len(u.Log) > 0 {
		log := make([]AgentLogEntry, 0, len(s.AgentLog)+len(u.Log))
		log = append(log, s.AgentLog...)
		log = append(log, u.Log...)
		next.AgentLog = log
	}
	next.InputTokens = s.InputTokens + u.InputTokens
	next.OutputTokens = s.OutputTokens + u.OutputTokens

	return next
}

// CanReenter reports whether the pipeline may loop back to the correlator.
func (s AuditState) CanReenter() bool {
	return s.LoopDecision == LoopContinue && s.LoopCount < s.MaxLoops
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
