package resolution

import "verity/internal/audit/models"

// ActionTemplate pairs a remediation instruction with its verification method.
type ActionTemplate struct {
	Instruction  string
	Verification string
}

// genericTemplate covers finding categories without a dedicated remediation.
var genericTemplate = ActionTemplate{
	Instruction:  "Provide additional documentation to resolve the identified discrepancy",
	Verification: "Manual review by compliance officer",
}

// actionTemplates enumerates remediation plans per finding category.
// Effectively immutable process-wide.
var actionTemplates = map[models.FindingCategory]ActionTemplate{
	models.CategoryDateAnomaly: {
		Instruction: "Provide corrected invoice with accurate manufacturing and issue dates, " +
			"supported by production batch records from the factory floor system",
		Verification: "Re-scan corrected documents through the document correlator",
	},
	models.CategorySourceMismatch: {
		Instruction: "Submit verified Certificate of Origin from an accredited customs authority " +
			"matching actual port of loading and shipper details",
		Verification: "Cross-reference new certificate against bill of lading and entity registration",
	},
	models.CategoryQuantityDrift: {
		Instruction: "Reconcile quantity discrepancies between invoice and bill of lading; " +
			"provide packing list with item-level counts and weigh-bridge receipts",
		Verification: "Re-audit with reconciled documents; verify quantities within 0.5% tolerance",
	},
	models.CategoryCertificateExpired: {
		Instruction: "Obtain renewed certification from accredited EU conformity assessment body " +
			"(Notified Body per ESPR Art. 48); submit proof of re-certification application",
		Verification: "Validate new certificate against EU EcoLabel registry and verify scope coverage",
	},
	models.CategoryEmissionsExcess: {
		Instruction: "Submit carbon footprint recalculation using GLEC Framework v3.0 methodology; " +
			"propose alternative low-emission logistics routes",
		Verification: "Re-calculate emissions with updated data; verify GLEC compliance",
	},
}

// TemplateFor returns the remediation template for a category, falling back
// to the generic plan for categories without one.
func TemplateFor(category models.FindingCategory) ActionTemplate {
	if t, ok := actionTemplates[category]; ok {
		return t
	}
	return genericTemplate
}
