// Package emissions implements the freight-emissions collaborator. When the
// remote API is unavailable the client degrades to GLEC Framework v3.0
// fixed-factor estimation locally; it never surfaces an error to the
// pipeline.
package emissions

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"verity/internal/audit/models"
	"verity/internal/audit/ports"
	"verity/internal/platform/config"
)

// GLEC Framework v3.0 fallback emission factors (kg CO2e per tonne-km).
var glecFactors = map[string]float64{
	"sea":   0.016,
	"road":  0.062,
	"rail":  0.022,
	"air":   0.602,
	"barge": 0.031,
}

// Transport mode to remote activity identifiers.
var activityIDs = map[string]string{
	"sea":  "freight_vessel-vessel_type_container_ship-route_type_na-size_na",
	"road": "freight_vehicle-vehicle_type_hgv-fuel_source_diesel-vehicle_weight_gt_33t-percentage_load_na",
	"rail": "freight_train-route_type_domestic-fuel_source_na",
	"air":  "freight_flight-route_type_na-distance_na-weight_na-rf_included",
}

// Known trade-route distances in km, keyed by UN/LOCODE pair.
var routeDistancesKM = map[[2]string]float64{
	{"BDCGP", "DEHAM"}: 14500,
	{"CNSHA", "DEHAM"}: 19500,
	{"CNSHA", "NLRTM"}: 19200,
	{"INVTZ", "DEHAM"}: 11200,
	{"BDCGP", "NLRTM"}: 14800,
}

var defaultDistancesKM = map[string]float64{
	"sea":  12000,
	"road": 500,
	"rail": 1200,
	"air":  5000,
}

// Client talks to the emissions service.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New builds a client from collaborator config.
func New(cfg config.Collaborator, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type estimateRequest struct {
	EmissionFactor struct {
		ActivityID  string `json:"activity_id"`
		DataVersion string `json:"data_version"`
	} `json:"emission_factor"`
	Parameters struct {
		Weight       float64 `json:"weight"`
		WeightUnit   string  `json:"weight_unit"`
		Distance     float64 `json:"distance"`
		DistanceUnit string  `json:"distance_unit"`
	} `json:"parameters"`
}

type estimateResponse struct {
	CO2e           float64 `json:"co2e"`
	EmissionFactor struct {
		ID     string `json:"id"`
		Source string `json:"source"`
	} `json:"emission_factor"`
}

// Estimate implements ports.EmissionsEstimator. The returned error is always
// nil; remote failures produce a local GLEC estimate with Estimated=true.
func (c *Client) Estimate(ctx context.Context, q ports.FreightQuery) (models.EmissionEstimate, error) {
	mode := q.Mode
	if _, ok := glecFactors[mode]; !ok {
		mode = "sea"
	}
	distance := routeDistance(q.Origin, q.Destination, mode)

	var payload estimateRequest
	payload.EmissionFactor.ActivityID = activityIDs[mode]
	payload.EmissionFactor.DataVersion = "^6"
	payload.Parameters.Weight = q.WeightKG / 1000
	payload.Parameters.WeightUnit = "t"
	payload.Parameters.Distance = distance
	payload.Parameters.DistanceUnit = "km"

	body, err := json.Marshal(payload)
	if err != nil {
		return c.glecFallback(q, mode, distance), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/estimate", bytes.NewReader(body))
	if err != nil {
		return c.glecFallback(q, mode, distance), nil
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.warnFallback(err)
		return c.glecFallback(q, mode, distance), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.warnFallback(nil)
		return c.glecFallback(q, mode, distance), nil
	}

	var decoded estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		c.warnFallback(err)
		return c.glecFallback(q, mode, distance), nil
	}

	return models.EmissionEstimate{
		CO2eKG:        round2(decoded.CO2e),
		CO2eTonnes:    round4(decoded.CO2e / 1000),
		FactorID:      decoded.EmissionFactor.ID,
		FactorSource:  sourceOr(decoded.EmissionFactor.Source, "Climatiq"),
		ActivityID:    activityIDs[mode],
		TransportMode: mode,
		Origin:        q.Origin,
		Destination:   q.Destination,
		GLECCompliant: true,
	}, nil
}

// EstimateLegs estimates a multi-leg route sequentially.
func (c *Client) EstimateLegs(ctx context.Context, legs []ports.FreightQuery) ([]models.EmissionEstimate, error) {
	out := make([]models.EmissionEstimate, 0, len(legs))
	for _, leg := range legs {
		est, err := c.Estimate(ctx, leg)
		if err != nil {
			return nil, err
		}
		out = append(out, est)
	}
	return out, nil
}

func (c *Client) glecFallback(q ports.FreightQuery, mode string, distanceKM float64) models.EmissionEstimate {
	co2eKG := q.WeightKG / 1000 * distanceKM * glecFactors[mode]
	return models.EmissionEstimate{
		CO2eKG:        round2(co2eKG),
		CO2eTonnes:    round4(co2eKG / 1000),
		FactorID:      "glec-v3-fallback",
		FactorSource:  "GLEC Framework v3.0",
		ActivityID:    "fallback",
		TransportMode: mode,
		Origin:        q.Origin,
		Destination:   q.Destination,
		GLECCompliant: true,
		Estimated:     true,
	}
}

func (c *Client) warnFallback(err error) {
	if c.logger != nil {
		c.logger.Warn("emissions API unavailable, using GLEC fallback", "error", err)
	}
}

func routeDistance(origin, destination, mode string) float64 {
	key := [2]string{strings.ToUpper(origin), strings.ToUpper(destination)}
	if d, ok := routeDistancesKM[key]; ok {
		return d
	}
	return defaultDistancesKM[mode]
}

func sourceOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
