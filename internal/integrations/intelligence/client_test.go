package intelligence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"verity/internal/audit/models"
	"verity/internal/platform/config"
)

type IntelligenceSuite struct {
	suite.Suite
	ctx context.Context
	now time.Time
}

func (s *IntelligenceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)
}

func TestIntelligenceSuite(t *testing.T) {
	suite.Run(t, new(IntelligenceSuite))
}

func (s *IntelligenceSuite) client(baseURL string) *Client {
	return New(
		config.Collaborator{BaseURL: baseURL, APIKey: "intel-key", Timeout: 2 * time.Second},
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *IntelligenceSuite) serve(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/search", r.URL.Path)
		s.Equal("intel-key", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(body))
	}))
}

// =============================================================================
// Risk Grading
// =============================================================================

func (s *IntelligenceSuite) TestSearchCleanCoverage() {
	server := s.serve(`{"hits": [
		{"title": "GreenTextile opens new facility", "description": "Expansion in Dhaka region", "url": "https://example.com/1", "source": "Trade Daily"}
	]}`)
	defer server.Close()

	report, err := s.client(server.URL).Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
	s.Require().NoError(err)

	s.Equal(models.RiskLow, report.RiskTier)
	s.Empty(report.Keywords)
	s.True(report.APIAvailable)
	s.Equal(s.now, report.SearchedAt)
	s.Require().Len(report.Hits, 1)
	s.Equal(0.1, report.Hits[0].Relevance)
	s.Contains(report.Summary, "No immediate risk indicators")
}

func (s *IntelligenceSuite) TestSearchRiskKeywords() {
	s.Run("one keyword grades medium", func() {
		server := s.serve(`{"hits": [
			{"title": "Supplier fined for pollution", "description": "River contamination near plant"}
		]}`)
		defer server.Close()

		report, err := s.client(server.URL).Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
		s.Require().NoError(err)
		s.Equal(models.RiskMedium, report.RiskTier)
		s.Contains(report.Keywords, "pollution")
	})

	s.Run("three keywords grade high", func() {
		server := s.serve(`{"hits": [
			{"title": "Emissions scandal deepens", "description": "Company faces penalty over greenwashing claims"}
		]}`)
		defer server.Close()

		report, err := s.client(server.URL).Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
		s.Require().NoError(err)
		s.Equal(models.RiskHigh, report.RiskTier)
		s.Len(report.Keywords, 3)
		s.Contains(report.Summary, "Risk indicators detected")
	})

	s.Run("five keywords grade critical", func() {
		server := s.serve(`{"hits": [
			{"title": "Forced labor and child labor allegations", "description": "Regulatory action after sanctions; certificate revoked"}
		]}`)
		defer server.Close()

		report, err := s.client(server.URL).Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
		s.Require().NoError(err)
		s.Equal(models.RiskCritical, report.RiskTier)
		s.GreaterOrEqual(len(report.Keywords), 5)
	})

	s.Run("duplicate keywords across hits count once", func() {
		server := s.serve(`{"hits": [
			{"title": "Pollution report", "description": "pollution at site A"},
			{"title": "More pollution", "description": "pollution at site B"}
		]}`)
		defer server.Close()

		report, err := s.client(server.URL).Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
		s.Require().NoError(err)
		s.Equal([]string{"pollution"}, report.Keywords)
		s.Equal(models.RiskMedium, report.RiskTier)
	})
}

func (s *IntelligenceSuite) TestSearchRelevanceScoring() {
	server := s.serve(`{"hits": [
		{"title": "Toxic waste fine and penalty", "description": "sanctions follow deforestation findings"}
	]}`)
	defer server.Close()

	report, err := s.client(server.URL).Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
	s.Require().NoError(err)
	s.Require().Len(report.Hits, 1)
	// Five matched keywords, 0.2 each, capped at 1.0.
	s.Equal(1.0, report.Hits[0].Relevance)
}

func (s *IntelligenceSuite) TestSearchCapsHits() {
	body := `{"hits": [`
	for i := 0; i < 15; i++ {
		if i > 0 {
			body += ","
		}
		body += `{"title": "item", "description": "text"}`
	}
	body += `]}`
	server := s.serve(body)
	defer server.Close()

	report, err := s.client(server.URL).Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
	s.Require().NoError(err)
	s.Len(report.Hits, maxHits)
}

// =============================================================================
// Degradation
// =============================================================================

func (s *IntelligenceSuite) TestSearchUnavailable() {
	s.Run("server error yields unknown tier with nil error", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		report, err := s.client(server.URL).Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
		s.Require().NoError(err)
		s.Equal(models.RiskUnknown, report.RiskTier)
		s.False(report.APIAvailable)
		s.Contains(report.Summary, "unavailable")
	})

	s.Run("network error yields unknown tier with nil error", func() {
		report, err := s.client("http://127.0.0.1:1").Search(s.ctx, "SUP-001", "GreenTextile GmbH", "")
		s.Require().NoError(err)
		s.Equal(models.RiskUnknown, report.RiskTier)
	})
}

func (s *IntelligenceSuite) TestSearchPortDisruptions() {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("query")
		_, _ = w.Write([]byte(`{"hits": [{"title": "Port strike at Chattogram", "description": "supply chain disruption expected"}]}`))
	}))
	defer server.Close()

	report, err := s.client(server.URL).SearchPortDisruptions(s.ctx, "BDCGP")
	s.Require().NoError(err)

	s.Contains(query, "port BDCGP")
	s.Contains(query, "strike disruption delay closure")
	s.Equal("PORT-BDCGP", report.SupplierID)
	s.Contains(report.Keywords, "port strike")
}
