package regulatory

import (
	"fmt"

	dErrors "verity/pkg/domain-errors"

	"verity/internal/audit/models"
)

// AnnualRevenueEUR is the assumed annual EU revenue used for percentage-based
// penalty estimates.
const AnnualRevenueEUR = 430_000_000

// ExposureCeilingEUR is the fixed regulatory ceiling: 4% of annual revenue.
const ExposureCeilingEUR = 17_200_000

// Regulation is one knowledge-base entry mapping a finding category to its
// citation and default penalty parameters.
type Regulation struct {
	Citation       string
	CitedText      string
	PenaltyPct     float64
	BasePenaltyEUR float64
}

// regulationDB enumerates every finding category the mapper can confirm.
// The map is effectively immutable; nothing writes to it after init.
var regulationDB = map[models.FindingCategory]Regulation{
	models.CategoryDateAnomaly: {
		Citation: "EU ESPR 2024/0455, Article 9(2)",
		CitedText: "Economic operators shall maintain accurate records of all production " +
			"stages, ensuring chronological consistency between manufacturing, " +
			"invoicing, and shipping documentation.",
		PenaltyPct:     2.5,
		BasePenaltyEUR: 100_000,
	},
	models.CategorySourceMismatch: {
		Citation: "EU ESPR 2024/0455, Article 9(3) & Green Claims Directive Art. 5",
		CitedText: "Product origin claims must be substantiated by verifiable evidence. " +
			"Misrepresentation of geographic origin constitutes a violation of " +
			"Article 5 of the Green Claims Directive and may constitute fraud " +
			"under Article 9(3) of the ESPR.",
		PenaltyPct:     4.0,
		BasePenaltyEUR: 2_400_000,
	},
	models.CategoryQuantityDrift: {
		Citation: "EU ESPR 2024/0455, Article 14(1)",
		CitedText: "The digital product passport shall contain accurate quantity " +
			"information consistent across all trade documentation.",
		PenaltyPct:     1.0,
		BasePenaltyEUR: 50_000,
	},
	models.CategoryCertificateExpired: {
		Citation: "EU ESPR 2024/0455, Article 11(4) & EUDR Art. 4",
		CitedText: "Products placed on the Union market must be accompanied by valid " +
			"certificates from accredited conformity assessment bodies. Expired " +
			"certificates render the product non-compliant.",
		PenaltyPct:     2.5,
		BasePenaltyEUR: 150_000,
	},
	models.CategoryEmissionsExcess: {
		Citation: "EU ESPR 2024/0455, Article 7(2)(a) & GLEC Framework v3.0",
		CitedText: "Performance requirements shall include maximum levels of environmental " +
			"impact including carbon footprint over the life cycle, calculated " +
			"using GLEC-compliant methodologies.",
		PenaltyPct:     2.0,
		BasePenaltyEUR: 120_000,
	},
}

// Lookup resolves a finding category against the knowledge base. Categories
// without a mapping fail loudly here; silent skipping hid detector drift in
// the past.
func Lookup(category models.FindingCategory) (Regulation, error) {
	reg, ok := regulationDB[category]
	if !ok {
		return Regulation{}, dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("no regulation mapping for finding category %q", category))
	}
	return reg, nil
}

// Mapped reports whether a category has a knowledge-base entry.
func Mapped(category models.FindingCategory) bool {
	_, ok := regulationDB[category]
	return ok
}

// PenaltyEUR converts a penalty percentage into an amount against the
// assumed annual revenue, rounded to whole euros.
func PenaltyEUR(pct float64) float64 {
	return float64(int64(AnnualRevenueEUR*pct/100 + 0.5))
}
