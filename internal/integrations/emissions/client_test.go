package emissions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"verity/internal/audit/ports"
	"verity/internal/platform/config"
)

type EmissionsSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *EmissionsSuite) SetupTest() {
	s.ctx = context.Background()
}

func TestEmissionsSuite(t *testing.T) {
	suite.Run(t, new(EmissionsSuite))
}

func (s *EmissionsSuite) client(baseURL string) *Client {
	return New(config.Collaborator{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
}

func (s *EmissionsSuite) query() ports.FreightQuery {
	return ports.FreightQuery{
		Origin:      "BDCGP",
		Destination: "DEHAM",
		WeightKG:    8200,
		Mode:        "sea",
	}
}

// =============================================================================
// Remote Estimation
// =============================================================================

func (s *EmissionsSuite) TestEstimateRemote() {
	var captured estimateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/estimate", r.URL.Path)
		s.Equal("Bearer test-key", r.Header.Get("Authorization"))
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&captured))

		resp := estimateResponse{CO2e: 1901.6}
		resp.EmissionFactor.ID = "sea-freight-factor"
		resp.EmissionFactor.Source = "GLEC"
		s.Require().NoError(json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	estimate, err := s.client(server.URL).Estimate(s.ctx, s.query())
	s.Require().NoError(err)

	// Known lane distance, weight converted to tonnes.
	s.Equal(14500.0, captured.Parameters.Distance)
	s.InDelta(8.2, captured.Parameters.Weight, 0.001)
	s.Equal("t", captured.Parameters.WeightUnit)

	s.Equal(1901.6, estimate.CO2eKG)
	s.InDelta(1.9016, estimate.CO2eTonnes, 0.0001)
	s.Equal("sea-freight-factor", estimate.FactorID)
	s.Equal("GLEC", estimate.FactorSource)
	s.True(estimate.GLECCompliant)
	s.False(estimate.Estimated)
}

func (s *EmissionsSuite) TestUnknownModeDefaultsToSea() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req estimateRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
		s.Equal(activityIDs["sea"], req.EmissionFactor.ActivityID)
		s.Require().NoError(json.NewEncoder(w).Encode(estimateResponse{CO2e: 100}))
	}))
	defer server.Close()

	q := s.query()
	q.Mode = "teleport"
	estimate, err := s.client(server.URL).Estimate(s.ctx, q)
	s.Require().NoError(err)
	s.Equal("sea", estimate.TransportMode)
}

// =============================================================================
// GLEC Fallback
// =============================================================================

func (s *EmissionsSuite) TestFallbackOnServerError() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	estimate, err := s.client(server.URL).Estimate(s.ctx, s.query())
	s.Require().NoError(err)

	s.True(estimate.Estimated)
	s.Equal("glec-v3-fallback", estimate.FactorID)
	s.Equal("GLEC Framework v3.0", estimate.FactorSource)
	// 8.2 t x 14500 km x 0.016 kg/t-km
	s.InDelta(1902.4, estimate.CO2eKG, 0.01)
}

func (s *EmissionsSuite) TestFallbackOnNetworkError() {
	estimate, err := s.client("http://127.0.0.1:1").Estimate(s.ctx, s.query())
	s.Require().NoError(err)
	s.True(estimate.Estimated)
	s.True(estimate.GLECCompliant)
}

func (s *EmissionsSuite) TestFallbackOnMalformedBody() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	estimate, err := s.client(server.URL).Estimate(s.ctx, s.query())
	s.Require().NoError(err)
	s.True(estimate.Estimated)
}

// =============================================================================
// Route Distances
// =============================================================================

func (s *EmissionsSuite) TestRouteDistance() {
	s.Run("known lanes resolve case-insensitively", func() {
		s.Equal(14500.0, routeDistance("bdcgp", "deham", "sea"))
		s.Equal(19500.0, routeDistance("CNSHA", "DEHAM", "sea"))
	})

	s.Run("unknown lanes fall back to the mode default", func() {
		s.Equal(12000.0, routeDistance("XXAAA", "XXBBB", "sea"))
		s.Equal(5000.0, routeDistance("XXAAA", "XXBBB", "air"))
	})
}

func (s *EmissionsSuite) TestEstimateLegs() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(json.NewEncoder(w).Encode(estimateResponse{CO2e: 500}))
	}))
	defer server.Close()

	legs := []ports.FreightQuery{
		{Origin: "BDCGP", Destination: "CNSHA", WeightKG: 8200, Mode: "sea"},
		{Origin: "CNSHA", Destination: "DEHAM", WeightKG: 8200, Mode: "sea"},
	}
	estimates, err := s.client(server.URL).EstimateLegs(s.ctx, legs)
	s.Require().NoError(err)
	s.Len(estimates, 2)
	s.Equal("BDCGP", estimates[0].Origin)
	s.Equal("DEHAM", estimates[1].Destination)
}
