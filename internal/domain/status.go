package domain

import "strings"

// ApplicationStatus is the provisioning state of a BankingApplication.
type ApplicationStatus string

const (
	StatusDraft                       ApplicationStatus = "Draft"
	StatusSubmitted                   ApplicationStatus = "Submitted"
	StatusUnderReview                 ApplicationStatus = "UnderReview"
	StatusRequiresAdditionalDocuments ApplicationStatus = "RequiresAdditionalDocuments"
	StatusApproved                    ApplicationStatus = "Approved"
	StatusRejected                    ApplicationStatus = "Rejected"
)

// Approved and Rejected have no outgoing edges.
var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusDraft:                       {StatusSubmitted},
	StatusSubmitted:                   {StatusUnderReview, StatusRequiresAdditionalDocuments},
	StatusUnderReview:                 {StatusApproved, StatusRejected, StatusRequiresAdditionalDocuments},
	StatusRequiresAdditionalDocuments: {StatusSubmitted, StatusApproved, StatusRejected},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to ApplicationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is sticky.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Live reports whether an application in s blocks a new one for the tenant.
func (s ApplicationStatus) Live() bool {
	return s != StatusRejected
}

// CarriesReason reports whether entering s records a rejection reason.
func (s ApplicationStatus) CarriesReason() bool {
	return s == StatusRejected || s == StatusRequiresAdditionalDocuments
}

// Valid reports whether s is a known status.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview,
		StatusRequiresAdditionalDocuments, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// MapProviderStatus translates provider vocabulary. Unrecognized values
// land on UnderReview, never on Approved.
func MapProviderStatus(providerStatus string) ApplicationStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "pending", "review", "in_review":
		return StatusUnderReview
	case "approved", "active":
		return StatusApproved
	case "denied", "rejected":
		return StatusRejected
	case "documents_required", "requires_documents":
		return StatusRequiresAdditionalDocuments
	default:
		return StatusUnderReview
	}
}

// StatusMessage is the notification title and body for entering s. ok is
// false for statuses that do not notify.
func StatusMessage(s ApplicationStatus, reason string) (title, body string, ok bool) {
	switch s {
	case StatusApproved:
		return "Banking application approved",
			"Your banking application has been approved. You can now open accounts and issue cards.", true
	case StatusRejected:
		body = "Your banking application was not approved."
		if reason != "" {
			body += " Reason: " + reason
		}
		return "Banking application rejected", body, true
	case StatusRequiresAdditionalDocuments:
		body = "The banking provider needs additional documents to continue reviewing your application."
		if reason != "" {
			body += " Details: " + reason
		}
		return "Additional documents required", body, true
	}
	return "", "", false
}
