// Package ports defines the contracts between pipeline stages and the
// external collaborators. Interfaces live here because every stage consumes
// at least one of them; concrete clients are in internal/integrations.
package ports

import (
	"context"

	"verity/internal/audit/models"
)

// ReasonResult is the free-text reasoning collaborator's answer plus token
// accounting for the state's running counters.
type ReasonResult struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Reasoner is the large-language-model reasoning collaborator. The text is
// expected to be JSON, optionally fenced; callers must treat parse failure
// as a recoverable error and fall back to deterministic behavior.
type Reasoner interface {
	Reason(ctx context.Context, systemPrompt, userMessage string, temperature float64) (ReasonResult, error)
}

// FreightQuery describes one logistics leg for emissions estimation.
type FreightQuery struct {
	Origin      string
	Destination string
	WeightKG    float64
	Mode        string
}

// EmissionsEstimator is the freight-emissions collaborator. Implementations
// degrade to a fixed-factor local estimate on failure instead of returning
// an error; the Estimated flag marks a degraded result.
type EmissionsEstimator interface {
	Estimate(ctx context.Context, q FreightQuery) (models.EmissionEstimate, error)
}

// EntityVerifier is the legal-entity registry collaborator. On API failure
// implementations return an UNVERIFIED snapshot with APIAvailable=false
// rather than an error.
type EntityVerifier interface {
	Verify(ctx context.Context, supplierID, name, jurisdiction string) (models.EntityVerification, error)
}

// IntelligenceSearcher is the live news/intelligence collaborator. On API
// failure implementations return an UNKNOWN-tier report with
// APIAvailable=false rather than an error.
type IntelligenceSearcher interface {
	Search(ctx context.Context, supplierID, name, extraContext string) (models.IntelligenceReport, error)
}
