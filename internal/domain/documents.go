package domain

import "strings"

// DocumentKind identifies a class of KYB document.
type DocumentKind string

const (
	DocArticlesOfIncorporation DocumentKind = "articlesOfIncorporation"
	DocBankStatements          DocumentKind = "bankStatements"
	DocDriversLicense          DocumentKind = "driversLicense"
	DocInsurance               DocumentKind = "insurance"
	DocOperatingAuthority      DocumentKind = "operatingAuthority"
)

// AllDocumentKinds is the canonical ordering used for display and listing.
var AllDocumentKinds = []DocumentKind{
	DocArticlesOfIncorporation,
	DocBankStatements,
	DocDriversLicense,
	DocInsurance,
	DocOperatingAuthority,
}

var baselineDocuments = []DocumentKind{
	DocArticlesOfIncorporation,
	DocBankStatements,
	DocDriversLicense,
}

var carrierDocuments = []DocumentKind{
	DocOperatingAuthority,
	DocInsurance,
}

// ParseDocumentKind validates a kind received over the wire.
func ParseDocumentKind(s string) (DocumentKind, error) {
	s = strings.TrimSpace(s)
	for _, kind := range AllDocumentKinds {
		if string(kind) == s {
			return kind, nil
		}
	}
	return "", ErrUnknownDocumentKind
}

// ClassifyBusiness derives the business type from the profile. A USDOT or
// MC number marks a carrier; everything else is treated as a shipper.
// Brokers are never derived.
func ClassifyBusiness(info BusinessInfo) BusinessType {
	if strings.TrimSpace(info.DOTNumber) != "" || strings.TrimSpace(info.MCNumber) != "" {
		return BusinessTypeCarrier
	}
	return BusinessTypeShipper
}

// RequiredDocumentsFor lists every known kind with its required flag.
func RequiredDocumentsFor(t BusinessType) map[DocumentKind]bool {
	out := make(map[DocumentKind]bool, len(AllDocumentKinds))
	for _, kind := range AllDocumentKinds {
		out[kind] = false
	}
	for _, kind := range baselineDocuments {
		out[kind] = true
	}
	if t == BusinessTypeCarrier {
		for _, kind := range carrierDocuments {
			out[kind] = true
		}
	}
	return out
}
