package correlator

import (
	"strings"

	"verity/internal/audit/models"
)

// Typed document roles. Upstream extraction uses drifting field names; the
// classifier maps raw records onto this stable internal schema once, so the
// detectors never touch raw maps.

// InvoiceRecord is the commercial invoice role.
type InvoiceRecord struct {
	Number            string
	Supplier          string
	IssueDate         string
	ManufacturingDate string
	DeclaredOrigin    string
	OriginCountry     string
	Quantity          float64
	Unit              string
	TotalValue        float64
	Currency          string
	SourceName        string
}

// ManifestRecord is the transport manifest (bill of lading) role.
type ManifestRecord struct {
	Reference       string
	PortOfLoading   string
	PortOfDischarge string
	Quantity        float64
	Unit            string
	WeightKG        float64
	Vessel          string
	DepartureDate   string
	Shipper         string
	ShipperAddress  string
	SourceName      string
}

// CertificateRecord is the conformity certificate role.
type CertificateRecord struct {
	Type        string
	Number      string
	IssuedDate  string
	ExpiryDate  string
	Scope       string
	IssuingBody string
	SourceName  string
}

// DocumentSet holds at most one record per role.
type DocumentSet struct {
	Invoice     *InvoiceRecord
	Manifest    *ManifestRecord
	Certificate *CertificateRecord
}

// Classify assigns each raw record to at most one role. Explicit type or
// file-name keywords win; field-signature matching then fills roles still
// empty. Later records never displace an already filled role.
func Classify(raws []models.RawDocument) DocumentSet {
	var set DocumentSet
	assigned := make([]bool, len(raws))

	for i, doc := range raws {
		docType := strings.ToLower(doc.String("document_type", "type"))
		fileName := strings.ToLower(doc.String("file_name", "filename", "name"))
		combined := docType + " " + fileName

		switch {
		case set.Invoice == nil && strings.Contains(combined, "invoice"):
			set.Invoice = invoiceFrom(doc)
			assigned[i] = true
		case set.Manifest == nil && containsAny(combined, "bill", "manifest", "lading", "bol"):
			set.Manifest = manifestFrom(doc)
			assigned[i] = true
		case set.Certificate == nil && containsAny(combined, "certificate", "cert"):
			set.Certificate = certificateFrom(doc)
			assigned[i] = true
		}
	}

	for i, doc := range raws {
		if assigned[i] {
			continue
		}
		switch {
		case set.Invoice == nil && (doc.String("invoice_date") != "" || doc.Float("total_value") != 0):
			set.Invoice = invoiceFrom(doc)
		case set.Manifest == nil && (doc.String("port_of_loading") != "" || doc.String("vessel_name", "vessel") != ""):
			set.Manifest = manifestFrom(doc)
		case set.Certificate == nil && (doc.String("certificate_number") != "" || doc.String("certificate_type") != ""):
			set.Certificate = certificateFrom(doc)
		}
	}

	return set
}

func invoiceFrom(doc models.RawDocument) *InvoiceRecord {
	return &InvoiceRecord{
		Number:            doc.String("invoice_number", "invoice_id"),
		Supplier:          doc.String("supplier", "vendor_name"),
		IssueDate:         doc.String("invoice_date"),
		ManufacturingDate: doc.String("manufacturing_date"),
		DeclaredOrigin:    doc.String("declared_origin"),
		OriginCountry:     doc.String("country_of_origin", "origin_country"),
		Quantity:          doc.Float("quantity"),
		Unit:              doc.String("unit"),
		TotalValue:        doc.Float("total_value"),
		Currency:          doc.String("currency"),
		SourceName:        doc.String("file_name", "filename", "name"),
	}
}

func manifestFrom(doc models.RawDocument) *ManifestRecord {
	return &ManifestRecord{
		Reference:       doc.String("invoice_reference", "reference"),
		PortOfLoading:   doc.String("port_of_loading"),
		PortOfDischarge: doc.String("port_of_discharge"),
		Quantity:        doc.Float("quantity"),
		Unit:            doc.String("unit"),
		WeightKG:        doc.Float("weight_kg"),
		Vessel:          doc.String("vessel_name", "vessel"),
		DepartureDate:   doc.String("departure_date"),
		Shipper:         doc.String("shipper"),
		ShipperAddress:  doc.String("shipper_address"),
		SourceName:      doc.String("file_name", "filename", "name"),
	}
}

func certificateFrom(doc models.RawDocument) *CertificateRecord {
	return &CertificateRecord{
		Type:        doc.String("certificate_type"),
		Number:      doc.String("certificate_number"),
		IssuedDate:  doc.String("issued_date"),
		ExpiryDate:  doc.String("certificate_expiry", "expiry_date"),
		Scope:       doc.String("scope"),
		IssuingBody: doc.String("issuing_body"),
		SourceName:  doc.String("file_name", "filename", "name"),
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// mockDocumentSet is the fixed fallback used when no live extracted records
// are supplied. Mirrors a known reference shipment so demo runs exercise
// every detector.
func mockDocumentSet() DocumentSet {
	return DocumentSet{
		Invoice: &InvoiceRecord{
			Number:            "INV-2026-0402-003",
			Supplier:          "GreenTextile GmbH",
			IssueDate:         "2026-01-15",
			ManufacturingDate: "2026-01-20",
			DeclaredOrigin:    "Germany",
			OriginCountry:     "Bangladesh",
			Quantity:          15000,
			Unit:              "meters",
			TotalValue:        42000,
			Currency:          "EUR",
			SourceName:        "INV-2026-0402-003.pdf",
		},
		Manifest: &ManifestRecord{
			PortOfLoading:   "BDCGP",
			PortOfDischarge: "DEHAM",
			Quantity:        14850,
			Unit:            "meters",
			WeightKG:        8200,
			Vessel:          "MSC AURORA",
			DepartureDate:   "2026-01-22",
			Shipper:         "GreenTextile BD Ltd.",
			SourceName:      "BOL-SH-2026-0402.pdf",
		},
		Certificate: &CertificateRecord{
			Type:        "EU_ECOLABEL",
			Number:      "ECO-2024-091-DE",
			IssuedDate:  "2024-03-01",
			ExpiryDate:  "2025-12-31",
			Scope:       "Organic Cotton Textiles",
			IssuingBody: "European Commission",
			SourceName:  "CERT-ECO-2026-091.pdf",
		},
	}
}
