// Package entityregistry implements the legal-entity registry collaborator
// over a GLEIF-style LEI lookup API. Failures degrade to an UNVERIFIED
// snapshot; the pipeline never sees an error from this client.
package entityregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"verity/internal/audit/models"
	"verity/internal/platform/config"
)

// Client talks to the entity registry.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger for degradation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New builds a client from collaborator config. The registry needs no key.
func New(cfg config.Collaborator, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// leiEnvelope models the JSON:API shape of the registry response, limited to
// the fields the verification logic reads.
type leiEnvelope struct {
	Data []leiRecord `json:"data"`
}

type leiRecord struct {
	ID         string `json:"id"`
	Attributes struct {
		Entity struct {
			LegalName    json.RawMessage `json:"legalName"`
			Jurisdiction string          `json:"jurisdiction"`
			Status       string          `json:"status"`
			LegalAddress struct {
				Country string `json:"country"`
			} `json:"legalAddress"`
		} `json:"entity"`
		Registration struct {
			Status         string `json:"status"`
			ConformityFlag string `json:"conformityFlag"`
			LastUpdateDate string `json:"lastUpdateDate"`
		} `json:"registration"`
	} `json:"attributes"`
}

// legalName handles both {"name": "..."} objects and bare strings, which the
// registry has used interchangeably across API revisions.
func (r leiRecord) legalName() string {
	raw := r.Attributes.Entity.LegalName
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
		return obj.Name
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// Verify implements ports.EntityVerifier. Exact-name lookup first, then a
// fulltext fuzzy search; API errors yield UNVERIFIED with APIAvailable=false.
func (c *Client) Verify(ctx context.Context, supplierID, name, jurisdiction string) (models.EntityVerification, error) {
	params := url.Values{}
	params.Set("filter[entity.legalName]", name)
	params.Set("page[size]", "5")
	if jurisdiction != "" {
		params.Set("filter[entity.legalAddress.country]", strings.ToUpper(jurisdiction))
	}

	records, err := c.fetch(ctx, params)
	if err != nil {
		return c.unavailable(supplierID, name, err), nil
	}
	if len(records) == 0 {
		return c.fuzzySearch(ctx, supplierID, name), nil
	}
	return buildVerification(supplierID, name, records, nil), nil
}

func (c *Client) fuzzySearch(ctx context.Context, supplierID, name string) models.EntityVerification {
	params := url.Values{}
	params.Set("filter[fulltext]", name)
	params.Set("page[size]", "3")

	records, err := c.fetch(ctx, params)
	if err != nil {
		return c.unavailable(supplierID, name, err)
	}
	if len(records) == 0 {
		return models.EntityVerification{
			SupplierID:   supplierID,
			Query:        name,
			Status:       models.EntityNoLEIFound,
			RiskFlags:    []string{"NO_LEI_REGISTRATION", "FUZZY_SEARCH_NO_MATCH"},
			APIAvailable: true,
		}
	}
	return buildVerification(supplierID, name, records[:1], []string{"FUZZY_MATCH_ONLY"})
}

func (c *Client) fetch(ctx context.Context, params url.Values) ([]leiRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lei-records?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry status %d", resp.StatusCode)
	}

	var envelope leiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func (c *Client) unavailable(supplierID, name string, err error) models.EntityVerification {
	if c.logger != nil {
		c.logger.Warn("entity registry unavailable", "supplier_id", supplierID, "error", err)
	}
	return models.EntityVerification{
		SupplierID: supplierID,
		Query:      name,
		Status:     models.EntityUnverified,
		RiskFlags:  []string{"API_ERROR"},
	}
}

func buildVerification(supplierID, name string, raw []leiRecord, extraFlags []string) models.EntityVerification {
	records := make([]models.LEIRecord, 0, len(raw))
	flags := append([]string{}, extraFlags...)

	for _, r := range raw {
		entityStatus := r.Attributes.Entity.Status
		if entityStatus == "" {
			entityStatus = "ACTIVE"
		}
		record := models.LEIRecord{
			LEI:                r.ID,
			LegalName:          r.legalName(),
			Jurisdiction:       r.Attributes.Entity.Jurisdiction,
			RegistrationStatus: r.Attributes.Registration.Status,
			EntityStatus:       entityStatus,
			Country:            r.Attributes.Entity.LegalAddress.Country,
			LastUpdate:         r.Attributes.Registration.LastUpdateDate,
		}
		records = append(records, record)

		if record.RegistrationStatus == "LAPSED" {
			flags = append(flags, "LEI_REGISTRATION_LAPSED")
		}
		if record.EntityStatus == "INACTIVE" {
			flags = append(flags, "ENTITY_INACTIVE")
		}
		if r.Attributes.Registration.ConformityFlag == "NON_CONFORMING" {
			flags = append(flags, "NON_CONFORMING_LEI")
		}
	}

	status := models.EntityVerified
	switch {
	case len(records) == 0:
		status = models.EntityNoLEIFound
		flags = append(flags, "NO_LEI_REGISTRATION")
	case hasRegistrationStatus(records, "LAPSED"):
		status = models.EntityLapsed
	case hasEntityStatus(records, "INACTIVE"):
		status = models.EntityFlagged
	case len(flags) > 0:
		status = models.EntityFlagged
	}

	return models.EntityVerification{
		SupplierID:   supplierID,
		Query:        name,
		Records:      records,
		Status:       status,
		RiskFlags:    flags,
		TotalRecords: len(raw),
		APIAvailable: true,
	}
}

func hasRegistrationStatus(records []models.LEIRecord, status string) bool {
	for _, r := range records {
		if r.RegistrationStatus == status {
			return true
		}
	}
	return false
}

func hasEntityStatus(records []models.LEIRecord, status string) bool {
	for _, r := range records {
		if r.EntityStatus == status {
			return true
		}
	}
	return false
}
