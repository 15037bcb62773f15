// Package models defines the audit domain types shared by all pipeline
// stages: findings, violations, corrective actions, the live agent log, and
// the snapshots of external verification results.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FindingCategory enumerates the discrepancy types a correlator can emit.
// Construct via ParseFindingCategory at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type FindingCategory string

const (
	CategoryDateAnomaly        FindingCategory = "DATE_ANOMALY"
	CategorySourceMismatch     FindingCategory = "SOURCE_MISMATCH"
	CategoryQuantityDrift      FindingCategory = "QUANTITY_DRIFT"
	CategoryDuplicateReference FindingCategory = "DUPLICATE_REFERENCE"
	CategoryCertificateExpired FindingCategory = "CERTIFICATE_EXPIRED"
	CategoryEmissionsExcess    FindingCategory = "EMISSIONS_EXCESS"
	CategoryEntityValidation   FindingCategory = "ENTITY_VALIDATION"
)

var validCategories = map[FindingCategory]bool{
	CategoryDateAnomaly:        true,
	CategorySourceMismatch:     true,
	CategoryQuantityDrift:      true,
	CategoryDuplicateReference: true,
	CategoryCertificateExpired: true,
	CategoryEmissionsExcess:    true,
	CategoryEntityValidation:   true,
}

// ParseFindingCategory validates a raw category string.
func ParseFindingCategory(s string) (FindingCategory, bool) {
	c := FindingCategory(strings.ToUpper(strings.TrimSpace(s)))
	return c, validCategories[c]
}

// Severity grades a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Weight returns the risk-scoring weight for a severity. Unknown severities
// weigh as LOW so a malformed collaborator response cannot inflate risk.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.8
	case SeverityMedium:
		return 0.5
	default:
		return 0.2
	}
}

// ParseSeverity validates a raw severity string, defaulting to MEDIUM.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// ViolationClass grades a confirmed violation.
type ViolationClass string

const (
	ViolationCritical    ViolationClass = "CRITICAL"
	ViolationMajor       ViolationClass = "MAJOR"
	ViolationMinor       ViolationClass = "MINOR"
	ViolationObservation ViolationClass = "OBSERVATION"
)

// ClassForSeverity applies the fixed severity-to-class mapping.
func ClassForSeverity(s Severity) ViolationClass {
	switch s {
	case SeverityCritical:
		return ViolationCritical
	case SeverityHigh:
		return ViolationMajor
	case SeverityMedium:
		return ViolationMinor
	default:
		return ViolationObservation
	}
}

// ComplianceStatus is the verdict derived by the regulatory mapper.
type ComplianceStatus string

const (
	CompliancePending       ComplianceStatus = "PENDING"
	ComplianceCompliant     ComplianceStatus = "COMPLIANT"
	CompliancePendingReview ComplianceStatus = "PENDING_REVIEW"
	ComplianceNonCompliant  ComplianceStatus = "NON_COMPLIANT"
)

// ResolutionStatus reports the resolution engine's outcome for a pass.
type ResolutionStatus string

const (
	ResolutionPending           ResolutionStatus = "PENDING"
	ResolutionResolved          ResolutionStatus = "RESOLVED"
	ResolutionEscalated         ResolutionStatus = "ESCALATED"
	ResolutionActionPlanDrafted ResolutionStatus = "ACTION_PLAN_DRAFTED"
)

// LoopDecision is the routing verdict of the loop decision state machine.
type LoopDecision string

const (
	LoopPending  LoopDecision = "PENDING"
	LoopContinue LoopDecision = "CONTINUE"
	LoopResolved LoopDecision = "RESOLVED"
	LoopEscalate LoopDecision = "ESCALATE_TO_HUMAN"
)

// Terminal reports whether the decision ends the pipeline.
func (d LoopDecision) Terminal() bool {
	return d == LoopResolved || d == LoopEscalate
}

// ActionStatus tracks a corrective action through its lifecycle.
type ActionStatus string

const (
	ActionDrafted      ActionStatus = "DRAFTED"
	ActionSent         ActionStatus = "SENT"
	ActionAcknowledged ActionStatus = "ACKNOWLEDGED"
	ActionInProgress   ActionStatus = "IN_PROGRESS"
	ActionResolved     ActionStatus = "RESOLVED"
	ActionEscalated    ActionStatus = "ESCALATED"
)

// EmailStatus tracks a drafted supplier notification.
type EmailStatus string

const (
	EmailPendingApproval EmailStatus = "PENDING_APPROVAL"
	EmailApproved        EmailStatus = "APPROVED"
	EmailSent            EmailStatus = "SENT"
)

// Stage names the originator of a log entry.
type Stage string

const (
	StageCorrelator Stage = "DOCUMENT_CORRELATOR"
	StageRegulatory Stage = "REGULATORY_MAPPER"
	StageResolution Stage = "RESOLUTION_ENGINE"
	StageSystem     Stage = "SYSTEM"
)

// LogSeverity grades a log entry.
type LogSeverity string

const (
	LogInfo     LogSeverity = "INFO"
	LogWarning  LogSeverity = "WARNING"
	LogError    LogSeverity = "ERROR"
	LogCritical LogSeverity = "CRITICAL"
)

// Finding is a single detected discrepancy. Immutable once appended to the
// state; the regulatory mapper consumes it by ID.
type Finding struct {
	ID             string          `json:"finding_id"`
	Category       FindingCategory `json:"finding_type"`
	Severity       Severity        `json:"severity"`
	Confidence     float64         `json:"confidence"`
	Description    string          `json:"description"`
	Evidence       map[string]any  `json:"evidence,omitempty"`
	SourceDocument string          `json:"source_document,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
}

// Violation is a confirmed regulatory breach derived from exactly one finding.
type Violation struct {
	ID                  string         `json:"violation_id"`
	FindingRef          string         `json:"finding_ref"`
	Regulation          string         `json:"regulation"`
	Class               ViolationClass `json:"violation_type"`
	Description         string         `json:"description"`
	CitedText           string         `json:"cited_text,omitempty"`
	PenaltyPct          float64        `json:"penalty_risk_pct"`
	PenaltyEUR          float64        `json:"penalty_risk_eur"`
	RemediationDeadline string         `json:"remediation_deadline,omitempty"`
	LegalReasoning      string         `json:"legal_reasoning,omitempty"`
}

// CorrectiveAction is one remediation unit addressing one violation.
type CorrectiveAction struct {
	ID                 string       `json:"action_id"`
	ViolationRef       string       `json:"violation_ref"`
	Instruction        string       `json:"action"`
	Deadline           string       `json:"deadline"`
	ResponsibleParty   string       `json:"responsible_party"`
	VerificationMethod string       `json:"verification_method"`
	Status             ActionStatus `json:"status"`
}

// SupplierEmail is the drafted non-compliance notification, at most one per
// loop iteration that has violations.
type SupplierEmail struct {
	To      string      `json:"to"`
	Subject string      `json:"subject"`
	Body    string      `json:"body"`
	Status  EmailStatus `json:"status"`
}

// AgentLogEntry is one append-only entry in the live agent feed. Entries are
// never deleted or reordered; ordering is defined by append order.
type AgentLogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Stage     Stage       `json:"agent"`
	Action    string      `json:"action"`
	Details   string      `json:"details"`
	Severity  LogSeverity `json:"severity"`
}

// NewLogEntry stamps a log entry with the current UTC time.
func NewLogEntry(stage Stage, action, details string, severity LogSeverity) AgentLogEntry {
	return AgentLogEntry{
		Timestamp: time.Now().UTC(),
		Stage:     stage,
		Action:    action,
		Details:   details,
		Severity:  severity,
	}
}

// NewID generates a prefixed identifier, e.g. NewID("FIND") -> FIND-3F2A91C4.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}

// RawDocument is an extracted document record as delivered upstream. The
// schema is not fixed; the correlator classifies these into typed roles.
type RawDocument map[string]any

// String looks up a field by the first matching alias and stringifies it.
func (d RawDocument) String(aliases ...string) string {
	for _, key := range aliases {
		if v, ok := d[key]; ok && v != nil {
			return strings.TrimSpace(fmt.Sprintf("%v", v))
		}
	}
	return ""
}

// Float looks up a numeric field by the first matching alias.
func (d RawDocument) Float(aliases ...string) float64 {
	for _, key := range aliases {
		v, ok := d[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case string:
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err == nil {
				return f
			}
		}
	}
	return 0
}

// EmissionEstimate is the freight-emissions collaborator snapshot.
type EmissionEstimate struct {
	CO2eKG        float64 `json:"co2e_kg"`
	CO2eTonnes    float64 `json:"co2e_tonnes"`
	FactorID      string  `json:"emission_factor_id,omitempty"`
	FactorSource  string  `json:"emission_factor_source,omitempty"`
	ActivityID    string  `json:"activity_id,omitempty"`
	TransportMode string  `json:"transport_mode"`
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
	GLECCompliant bool    `json:"glec_compliant"`
	Estimated     bool    `json:"estimated"`
}

// EntityStatus is the registry collaborator's verification verdict.
type EntityStatus string

const (
	EntityVerified   EntityStatus = "VERIFIED"
	EntityNoLEIFound EntityStatus = "NO_LEI_FOUND"
	EntityLapsed     EntityStatus = "LAPSED"
	EntityFlagged    EntityStatus = "FLAGGED"
	EntityUnverified EntityStatus = "UNVERIFIED"
)

// LEIRecord is one legal-entity record returned by the registry.
type LEIRecord struct {
	LEI                string `json:"lei"`
	LegalName          string `json:"legal_name"`
	Jurisdiction       string `json:"jurisdiction,omitempty"`
	RegistrationStatus string `json:"registration_status"`
	EntityStatus       string `json:"entity_status"`
	Country            string `json:"country,omitempty"`
	LastUpdate         string `json:"last_update,omitempty"`
}

// EntityVerification is the entity-registry collaborator snapshot.
type EntityVerification struct {
	SupplierID   string       `json:"supplier_id"`
	Query        string       `json:"query"`
	Records      []LEIRecord  `json:"lei_records,omitempty"`
	Status       EntityStatus `json:"verification_status"`
	RiskFlags    []string     `json:"risk_flags,omitempty"`
	TotalRecords int          `json:"total_records_found"`
	APIAvailable bool         `json:"api_available"`
}

// RiskTier is the live-intelligence collaborator's overall risk grade.
type RiskTier string

const (
	RiskLow      RiskTier = "LOW"
	RiskMedium   RiskTier = "MEDIUM"
	RiskHigh     RiskTier = "HIGH"
	RiskCritical RiskTier = "CRITICAL"
	RiskUnknown  RiskTier = "UNKNOWN"
)

// NewsHit is one live-intelligence search result.
type NewsHit struct {
	Title       string  `json:"title"`
	Snippet     string  `json:"snippet"`
	URL         string  `json:"url"`
	Source      string  `json:"source,omitempty"`
	PublishedAt string  `json:"published_date,omitempty"`
	Relevance   float64 `json:"relevance_score"`
}

// IntelligenceReport is the live-intelligence collaborator snapshot.
type IntelligenceReport struct {
	SupplierID   string    `json:"supplier_id"`
	Query        string    `json:"query"`
	SearchedAt   time.Time `json:"search_timestamp"`
	Hits         []NewsHit `json:"news_hits,omitempty"`
	Keywords     []string  `json:"risk_keywords_found,omitempty"`
	RiskTier     RiskTier  `json:"overall_risk"`
	Summary      string    `json:"summary"`
	APIAvailable bool      `json:"api_available"`
}
