// Package intelligence implements the live news/intelligence collaborator.
// It searches recent coverage of a supplier, grades the result into a risk
// tier from matched keywords, and degrades to an UNKNOWN-tier report on API
// failure.
package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"verity/internal/audit/models"
	"verity/internal/platform/config"
)

// Risk keywords watched in supplier coverage.
var riskKeywords = []string{
	"environmental violation",
	"pollution",
	"fine",
	"penalty",
	"greenwashing",
	"deforestation",
	"illegal logging",
	"toxic waste",
	"emissions scandal",
	"port strike",
	"supply chain disruption",
	"regulatory action",
	"sanctions",
	"forced labor",
	"child labor",
	"human rights violation",
	"carbon fraud",
	"certificate revoked",
}

const maxHits = 10

// Client talks to the intelligence search service.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger for degradation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client from collaborator config.
func New(cfg config.Collaborator, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	Hits []struct {
		Title         string `json:"title"`
		Description   string `json:"description"`
		Snippet       string `json:"snippet"`
		URL           string `json:"url"`
		Source        string `json:"source"`
		PublishedDate string `json:"published_date"`
	} `json:"hits"`
}

// Search implements ports.IntelligenceSearcher.
func (c *Client) Search(ctx context.Context, supplierID, name, extraContext string) (models.IntelligenceReport, error) {
	query := fmt.Sprintf("%s environmental compliance supply chain", name)
	if extraContext != "" {
		query += " " + extraContext
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("num_web_results", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return c.unavailable(supplierID, query, err), nil
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return c.unavailable(supplierID, query, err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.unavailable(supplierID, query, fmt.Errorf("intelligence status %d", resp.StatusCode)), nil
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return c.unavailable(supplierID, query, err), nil
	}

	hits := make([]models.NewsHit, 0, maxHits)
	seen := map[string]bool{}
	var keywords []string

	for i, hit := range decoded.Hits {
		if i >= maxHits {
			break
		}
		snippet := hit.Description
		if snippet == "" {
			snippet = hit.Snippet
		}
		combined := strings.ToLower(hit.Title + " " + snippet)

		var found []string
		for _, kw := range riskKeywords {
			if strings.Contains(combined, kw) {
				found = append(found, kw)
				if !seen[kw] {
					seen[kw] = true
					keywords = append(keywords, kw)
				}
			}
		}

		relevance := 0.1
		if len(found) > 0 {
			relevance = min(float64(len(found))*0.2, 1.0)
		}

		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		hits = append(hits, models.NewsHit{
			Title:       hit.Title,
			Snippet:     snippet,
			URL:         hit.URL,
			Source:      hit.Source,
			PublishedAt: hit.PublishedDate,
			Relevance:   relevance,
		})
	}

	return models.IntelligenceReport{
		SupplierID:   supplierID,
		Query:        query,
		SearchedAt:   c.now(),
		Hits:         hits,
		Keywords:     keywords,
		RiskTier:     tierFor(len(keywords)),
		Summary:      summarize(hits, keywords),
		APIAvailable: true,
	}, nil
}

// SearchPortDisruptions checks for strikes or disruptions at a port.
func (c *Client) SearchPortDisruptions(ctx context.Context, portCode string) (models.IntelligenceReport, error) {
	return c.Search(ctx, "PORT-"+portCode, "port "+portCode, "strike disruption delay closure")
}

func (c *Client) unavailable(supplierID, query string, err error) models.IntelligenceReport {
	if c.logger != nil {
		c.logger.Warn("intelligence search unavailable", "supplier_id", supplierID, "error", err)
	}
	return models.IntelligenceReport{
		SupplierID: supplierID,
		Query:      query,
		SearchedAt: c.now(),
		RiskTier:   models.RiskUnknown,
		Summary:    "Live intelligence unavailable, API error.",
	}
}

func tierFor(keywordCount int) models.RiskTier {
	switch {
	case keywordCount >= 5:
		return models.RiskCritical
	case keywordCount >= 3:
		return models.RiskHigh
	case keywordCount >= 1:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func summarize(hits []models.NewsHit, keywords []string) string {
	if len(hits) == 0 {
		return "No relevant news found for this supplier."
	}
	parts := []string{fmt.Sprintf("Found %d relevant news items.", len(hits))}
	if len(keywords) > 0 {
		top := keywords
		if len(top) > 5 {
			top = top[:5]
		}
		parts = append(parts, fmt.Sprintf("Risk indicators detected: %s.", strings.Join(top, ", ")))
	} else {
		parts = append(parts, "No immediate risk indicators found in recent news.")
	}
	return strings.Join(parts, " ")
}
