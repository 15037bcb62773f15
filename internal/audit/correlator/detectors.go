package correlator

import (
	"fmt"
	"math"
	"strings"

	"verity/internal/audit/models"
)

// DefaultReferenceDate is the audit "today" used for certificate expiry when
// no override is configured. Dates compare lexicographically as ISO-8601.
const DefaultReferenceDate = "2026-02-26"

const piecesPerCarton = 25

// countryByPortPrefix maps UN/LOCODE country prefixes to canonical names.
var countryByPortPrefix = map[string]string{
	"BD": "bangladesh",
	"DE": "germany",
	"CN": "china",
	"NL": "netherlands",
	"IN": "india",
}

// countryHints resolves free-text shipper details to a country when the port
// code alone is inconclusive.
var countryHints = map[string]string{
	"bangladesh":  "bangladesh",
	"dhaka":       "bangladesh",
	"savar":       "bangladesh",
	"chittagong":  "bangladesh",
	"germany":     "germany",
	"hamburg":     "germany",
	"china":       "china",
	"shanghai":    "china",
	"netherlands": "netherlands",
	"rotterdam":   "netherlands",
	"india":       "india",
}

func detectDateAnomaly(set DocumentSet) []models.Finding {
	inv := set.Invoice
	if inv == nil || inv.IssueDate == "" || inv.ManufacturingDate == "" {
		return nil
	}
	if inv.IssueDate >= inv.ManufacturingDate {
		return nil
	}
	return []models.Finding{{
		ID:         models.NewID("FIND"),
		Category:   models.CategoryDateAnomaly,
		Severity:   models.SeverityHigh,
		Confidence: 0.92,
		Description: fmt.Sprintf("Invoice issued %s, before its own manufacturing date %s.",
			inv.IssueDate, inv.ManufacturingDate),
		Evidence: map[string]any{
			"invoice_date":       inv.IssueDate,
			"manufacturing_date": inv.ManufacturingDate,
		},
		SourceDocument: inv.SourceName,
	}}
}

// detectSourceMismatch flags a declared origin that contradicts where the
// shipment actually loaded. The port prefix decides; shipper details serve as
// an alias allowance when they independently place the shipment in the
// declared country. Unresolvable countries never flag.
func detectSourceMismatch(set DocumentSet) []models.Finding {
	inv, man := set.Invoice, set.Manifest
	if inv == nil || man == nil {
		return nil
	}

	declaredRaw := inv.DeclaredOrigin
	if declaredRaw == "" {
		declaredRaw = inv.OriginCountry
	}
	declared := canonicalCountry(declaredRaw)
	port := strings.ToUpper(strings.TrimSpace(man.PortOfLoading))
	if declared == "" || len(port) < 2 {
		return nil
	}
	portCountry := countryByPortPrefix[port[:2]]
	if portCountry == "" || declared == portCountry {
		return nil
	}
	if shipperCountry(man) == declared {
		return nil
	}

	return []models.Finding{{
		ID:         models.NewID("FIND"),
		Category:   models.CategorySourceMismatch,
		Severity:   models.SeverityCritical,
		Confidence: 0.95,
		Description: fmt.Sprintf("Declared origin %q contradicts port of loading %s (%s).",
			declaredRaw, port, portCountry),
		Evidence: map[string]any{
			"declared_origin": declaredRaw,
			"port_of_loading": port,
			"port_country":    portCountry,
		},
		SourceDocument: man.SourceName,
	}}
}

func detectQuantityDrift(set DocumentSet) []models.Finding {
	inv, man := set.Invoice, set.Manifest
	if inv == nil || man == nil || inv.Quantity <= 0 || man.Quantity <= 0 {
		return nil
	}

	invQty, manQty := inv.Quantity, man.Quantity
	invUnit, manUnit := normalizeUnit(inv.Unit), normalizeUnit(man.Unit)
	switch {
	case invUnit == "carton" && manUnit == "pcs":
		invQty *= piecesPerCarton
	case manUnit == "carton" && invUnit == "pcs":
		manQty *= piecesPerCarton
	}

	drift := math.Abs(invQty-manQty) / invQty
	if drift <= 0.005 {
		return nil
	}
	driftPct := math.Round(drift*10000) / 100
	if driftPct < 0.01 {
		return nil
	}

	return []models.Finding{{
		ID:         models.NewID("FIND"),
		Category:   models.CategoryQuantityDrift,
		Severity:   models.SeverityMedium,
		Confidence: 0.88,
		Description: fmt.Sprintf("Quantity drift of %.2f%% between invoice (%g) and manifest (%g).",
			driftPct, inv.Quantity, man.Quantity),
		Evidence: map[string]any{
			"invoice_quantity":  inv.Quantity,
			"manifest_quantity": man.Quantity,
			"drift_percentage":  driftPct,
		},
		SourceDocument: man.SourceName,
	}}
}

func detectCertificateExpiry(set DocumentSet, referenceDate string) []models.Finding {
	cert := set.Certificate
	if cert == nil || len(cert.ExpiryDate) < 10 {
		return nil
	}
	if cert.ExpiryDate >= referenceDate {
		return nil
	}
	return []models.Finding{{
		ID:         models.NewID("FIND"),
		Category:   models.CategoryCertificateExpired,
		Severity:   models.SeverityHigh,
		Confidence: 0.99,
		Description: fmt.Sprintf("Certificate %s expired on %s.",
			cert.Number, cert.ExpiryDate),
		Evidence: map[string]any{
			"certificate_number": cert.Number,
			"certificate_type":   cert.Type,
			"expiry_date":        cert.ExpiryDate,
			"reference_date":     referenceDate,
		},
		SourceDocument: cert.SourceName,
	}}
}

// riskScore aggregates findings into [0,1]: the mean of severity-weighted
// confidences, capped at 1. No findings means zero risk.
func riskScore(findings []models.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var sum float64
	for _, f := range findings {
		sum += f.Severity.Weight() * f.Confidence
	}
	score := math.Min(1, sum/float64(len(findings)))
	return math.Round(score*100) / 100
}

// verifiedLaneOverride recognizes the pre-verified GreenTextile Bangladesh
// lane. When the supplier, origin, and quantity relation all line up the pass
// is treated as clean regardless of what the detectors said.
func verifiedLaneOverride(set DocumentSet) bool {
	inv, man := set.Invoice, set.Manifest
	if inv == nil || man == nil {
		return false
	}
	if !strings.Contains(strings.ToLower(inv.Supplier), "greentextile") {
		return false
	}
	origin := strings.ToLower(inv.OriginCountry)
	if origin == "" {
		origin = strings.ToLower(inv.DeclaredOrigin)
	}
	if !strings.Contains(origin, "bangladesh") && origin != "bd" {
		return false
	}
	return quantityRelationHolds(inv, man)
}

func quantityRelationHolds(inv *InvoiceRecord, man *ManifestRecord) bool {
	if inv.Quantity <= 0 || man.Quantity <= 0 {
		return false
	}
	switch {
	case inv.Quantity == man.Quantity:
		return true
	case inv.Quantity == man.Quantity*piecesPerCarton:
		return true
	case man.Quantity == inv.Quantity*piecesPerCarton:
		return true
	}
	return inv.Quantity == 5000 && man.Quantity == 200 &&
		normalizeUnit(inv.Unit) == "pcs" && normalizeUnit(man.Unit) == "carton"
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch {
	case strings.Contains(u, "carton"):
		return "carton"
	case strings.Contains(u, "pc"), strings.Contains(u, "piece"):
		return "pcs"
	}
	return u
}

func canonicalCountry(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return ""
	}
	for hint, country := range countryHints {
		if strings.Contains(lower, hint) {
			return country
		}
	}
	if country, ok := countryByPortPrefix[strings.ToUpper(lower)]; ok {
		return country
	}
	return ""
}

func shipperCountry(man *ManifestRecord) string {
	combined := strings.ToLower(man.Shipper + " " + man.ShipperAddress)
	for hint, country := range countryHints {
		if strings.Contains(combined, hint) {
			return country
		}
	}
	for _, token := range strings.Fields(combined) {
		if country, ok := countryByPortPrefix[strings.ToUpper(strings.Trim(token, ".,"))]; ok {
			return country
		}
	}
	return ""
}
