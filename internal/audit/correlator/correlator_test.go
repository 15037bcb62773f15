package correlator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"verity/internal/audit/models"
	"verity/internal/audit/ports"
	"verity/internal/integrations/reasoning"
)

// fakeReasoner returns a canned response or error.
type fakeReasoner struct {
	text string
	err  error
}

func (f *fakeReasoner) Reason(context.Context, string, string, float64) (ports.ReasonResult, error) {
	if f.err != nil {
		return ports.ReasonResult{}, f.err
	}
	return ports.ReasonResult{Text: f.text, InputTokens: 500, OutputTokens: 300}, nil
}

// fakeEstimator returns a fixed estimate.
type fakeEstimator struct {
	called bool
}

func (f *fakeEstimator) Estimate(_ context.Context, q ports.FreightQuery) (models.EmissionEstimate, error) {
	f.called = true
	return models.EmissionEstimate{
		CO2eKG:        1901.6,
		TransportMode: q.Mode,
		Origin:        q.Origin,
		Destination:   q.Destination,
		GLECCompliant: true,
	}, nil
}

type CorrelatorSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *CorrelatorSuite) SetupTest() {
	s.ctx = context.Background()
}

func TestCorrelatorSuite(t *testing.T) {
	suite.Run(t, new(CorrelatorSuite))
}

func (s *CorrelatorSuite) state(extracted []models.RawDocument) models.AuditState {
	return models.NewAuditState("B-001", "SUP-001", "GreenTextile GmbH", nil, extracted, 3)
}

func (s *CorrelatorSuite) logActions(log []models.AgentLogEntry) []string {
	actions := make([]string, 0, len(log))
	for _, entry := range log {
		actions = append(actions, entry.Action)
	}
	return actions
}

// =============================================================================
// Classification
// =============================================================================

func (s *CorrelatorSuite) TestClassify() {
	s.Run("keyword match assigns roles by type and file name", func() {
		set := Classify([]models.RawDocument{
			{"document_type": "commercial_invoice", "invoice_number": "INV-1"},
			{"file_name": "BOL-2026.pdf", "port_of_loading": "BDCGP"},
			{"document_type": "certificate", "certificate_number": "ECO-1"},
		})
		s.Require().NotNil(set.Invoice)
		s.Require().NotNil(set.Manifest)
		s.Require().NotNil(set.Certificate)
		s.Equal("INV-1", set.Invoice.Number)
		s.Equal("BDCGP", set.Manifest.PortOfLoading)
		s.Equal("ECO-1", set.Certificate.Number)
	})

	s.Run("field signatures fill roles keywords missed", func() {
		set := Classify([]models.RawDocument{
			{"invoice_date": "2026-01-15", "total_value": 42000.0},
			{"vessel_name": "MSC AURORA"},
		})
		s.Require().NotNil(set.Invoice)
		s.Equal("2026-01-15", set.Invoice.IssueDate)
		s.Require().NotNil(set.Manifest)
		s.Equal("MSC AURORA", set.Manifest.Vessel)
	})

	s.Run("each record fills at most one role and never displaces", func() {
		set := Classify([]models.RawDocument{
			{"document_type": "invoice", "invoice_number": "INV-1"},
			{"document_type": "invoice", "invoice_number": "INV-2"},
		})
		s.Require().NotNil(set.Invoice)
		s.Equal("INV-1", set.Invoice.Number)
		s.Nil(set.Manifest)
	})

	s.Run("field name aliases resolve", func() {
		set := Classify([]models.RawDocument{
			{"document_type": "invoice", "vendor_name": "Acme", "origin_country": "Bangladesh"},
		})
		s.Require().NotNil(set.Invoice)
		s.Equal("Acme", set.Invoice.Supplier)
		s.Equal("Bangladesh", set.Invoice.OriginCountry)
	})
}

// =============================================================================
// Run
// =============================================================================

func (s *CorrelatorSuite) TestRunMockFallback() {
	svc := New(WithReferenceDate(DefaultReferenceDate))
	update, err := svc.Run(s.ctx, s.state(nil))
	s.Require().NoError(err)

	actions := s.logActions(update.Log)
	s.Contains(actions, "SCAN_INITIATED")
	s.Contains(actions, "MOCK_FALLBACK")
	s.Contains(actions, "SCAN_COMPLETE")

	// The reference fixtures trip the date, origin, drift, and expiry detectors.
	s.Require().NotNil(update.Findings)
	categories := map[models.FindingCategory]bool{}
	for _, f := range update.Findings {
		categories[f.Category] = true
	}
	s.True(categories[models.CategoryDateAnomaly])
	s.True(categories[models.CategorySourceMismatch])
	s.True(categories[models.CategoryQuantityDrift])
	s.True(categories[models.CategoryCertificateExpired])

	s.Require().NotNil(update.RiskScore)
	s.Greater(*update.RiskScore, 0.0)
	s.LessOrEqual(*update.RiskScore, 1.0)
}

func (s *CorrelatorSuite) TestRunCleanDocuments() {
	docs := []models.RawDocument{
		{
			"document_type": "invoice", "invoice_number": "INV-9",
			"invoice_date": "2026-01-25", "manufacturing_date": "2026-01-20",
			"declared_origin": "Bangladesh", "quantity": 5000.0, "unit": "PCS",
		},
		{
			"document_type": "manifest", "invoice_reference": "INV-9",
			"port_of_loading": "BDCGP", "port_of_discharge": "DEHAM",
			"quantity": 5000.0, "unit": "PCS", "weight_kg": 8200.0,
		},
		{
			"document_type": "certificate", "certificate_number": "ECO-9",
			"certificate_expiry": "2027-06-30",
		},
	}

	svc := New()
	update, err := svc.Run(s.ctx, s.state(docs))
	s.Require().NoError(err)

	s.Empty(update.Findings)
	s.NotNil(update.Findings)
	s.Require().NotNil(update.RiskScore)
	s.Zero(*update.RiskScore)
	s.NotContains(s.logActions(update.Log), "MOCK_FALLBACK")
}

func (s *CorrelatorSuite) TestRunReferenceAnchorWarning() {
	docs := []models.RawDocument{
		{"document_type": "invoice", "invoice_number": "INV-1", "invoice_date": "2026-01-25",
			"manufacturing_date": "2026-01-20"},
		{"document_type": "manifest", "invoice_reference": "INV-OTHER", "port_of_loading": "BDCGP"},
	}

	svc := New()
	update, err := svc.Run(s.ctx, s.state(docs))
	s.Require().NoError(err)
	s.Contains(s.logActions(update.Log), "REFERENCE_MISMATCH")
	// Warning only; no finding carries the mismatch.
	for _, f := range update.Findings {
		s.NotEqual(models.CategoryDuplicateReference, f.Category)
	}
}

func (s *CorrelatorSuite) TestRunReasonedFindings() {
	s.Run("valid reasoning output becomes findings with defaults", func() {
		reasoner := &fakeReasoner{text: "```json\n" +
			`{"reasoning": "supplier names differ across documents",
			  "ai_findings": [
			    {"type": "ENTITY_VALIDATION", "description": "shipper differs from invoice supplier"},
			    {"type": "NOT_A_CATEGORY", "description": "dropped"}
			  ]}` + "\n```"}
		svc := New(WithReasoner(reasoner, reasoning.DecodeFencedJSON))

		update, err := svc.Run(s.ctx, s.state(nil))
		s.Require().NoError(err)

		var ai []models.Finding
		for _, f := range update.Findings {
			if f.SourceDocument == "AI-Reasoning" {
				ai = append(ai, f)
			}
		}
		s.Require().Len(ai, 1)
		s.Equal(models.CategoryEntityValidation, ai[0].Category)
		s.Equal(models.SeverityMedium, ai[0].Severity)
		s.Equal(0.9, ai[0].Confidence)
		s.Equal("supplier names differ across documents", ai[0].Reasoning)
		s.Equal(500, update.InputTokens)
		s.Equal(300, update.OutputTokens)
		s.Contains(s.logActions(update.Log), "AI_ANALYSIS_COMPLETE")
	})

	s.Run("reasoner failure falls back to deterministic detectors", func() {
		svc := New(WithReasoner(&fakeReasoner{err: errors.New("timeout")}, reasoning.DecodeFencedJSON))
		update, err := svc.Run(s.ctx, s.state(nil))
		s.Require().NoError(err)
		s.Contains(s.logActions(update.Log), "AI_ANALYSIS_FAILED")
		s.NotEmpty(update.Findings)
	})

	s.Run("unparseable reasoning output falls back", func() {
		svc := New(WithReasoner(&fakeReasoner{text: "I think the documents look suspicious"}, reasoning.DecodeFencedJSON))
		update, err := svc.Run(s.ctx, s.state(nil))
		s.Require().NoError(err)
		s.Contains(s.logActions(update.Log), "AI_ANALYSIS_FAILED")
	})
}

func (s *CorrelatorSuite) TestRunEmissions() {
	estimator := &fakeEstimator{}
	svc := New(WithEstimator(estimator))

	update, err := svc.Run(s.ctx, s.state(nil))
	s.Require().NoError(err)

	s.True(estimator.called)
	s.Require().NotNil(update.Emissions)
	s.Equal("BDCGP", update.Emissions.Origin)
	s.Equal("DEHAM", update.Emissions.Destination)
	s.Contains(s.logActions(update.Log), "EMISSIONS_SCORED")
}

func (s *CorrelatorSuite) TestRunVerifiedLaneOverride() {
	docs := []models.RawDocument{
		{
			"document_type": "invoice", "supplier": "GreenTextile GmbH",
			"country_of_origin": "Bangladesh",
			"invoice_date": "2026-01-15", "manufacturing_date": "2026-01-20",
			"quantity": 5000.0, "unit": "PCS",
		},
		{
			"document_type": "manifest", "port_of_loading": "BDCGP",
			"quantity": 200.0, "unit": "CARTON",
		},
	}

	svc := New()
	update, err := svc.Run(s.ctx, s.state(docs))
	s.Require().NoError(err)

	s.Empty(update.Findings)
	s.NotNil(update.Findings)
	s.Require().NotNil(update.RiskScore)
	s.Zero(*update.RiskScore)
	s.Contains(s.logActions(update.Log), "VERIFIED_LANE_OVERRIDE")
}
