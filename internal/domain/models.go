package domain

import (
	"encoding/json"
	"time"
)

// BusinessType classifies a tenant for document requirements.
type BusinessType string

const (
	BusinessTypeCarrier BusinessType = "carrier"
	BusinessTypeBroker  BusinessType = "broker"
	BusinessTypeShipper BusinessType = "shipper"
)

// Address is a postal address as submitted by the tenant.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Contact is the person the provider reaches out to during review.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// BusinessInfo is the KYB profile captured when an application starts.
type BusinessInfo struct {
	LegalName string  `json:"legal_name"`
	DBA       string  `json:"dba,omitempty"`
	EIN       string  `json:"ein"`
	DOTNumber string  `json:"dot_number,omitempty"`
	MCNumber  string  `json:"mc_number,omitempty"`
	Address   Address `json:"address"`
	Contact   Contact `json:"contact"`
}

// BankingApplication is one tenant provisioning attempt.
type BankingApplication struct {
	ID                    string                  `json:"id"`
	TenantID              string                  `json:"tenant_id"`
	Status                ApplicationStatus       `json:"status"`
	BusinessType          BusinessType            `json:"business_type"`
	BusinessInfo          BusinessInfo            `json:"business_info"`
	RequiredDocuments     map[DocumentKind]bool   `json:"required_documents"`
	SubmittedDocuments    map[DocumentKind]string `json:"submitted_documents"`
	ProviderApplicationID string                  `json:"provider_application_id,omitempty"`
	RejectionReason       string                  `json:"rejection_reason,omitempty"`
	Version               int64                   `json:"version"`
	CreatedAt             time.Time               `json:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

// NewBankingApplication classifies the business and fixes its document
// requirements. The result is in Draft.
func NewBankingApplication(id, tenantID string, info BusinessInfo, now time.Time) *BankingApplication {
	businessType := ClassifyBusiness(info)
	return &BankingApplication{
		ID:                 id,
		TenantID:           tenantID,
		Status:             StatusDraft,
		BusinessType:       businessType,
		BusinessInfo:       info,
		RequiredDocuments:  RequiredDocumentsFor(businessType),
		SubmittedDocuments: map[DocumentKind]string{},
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// RecordDocument adds kind to the submitted set. It reports whether the set
// changed; re-uploading a kind only refreshes its reference.
func (a *BankingApplication) RecordDocument(kind DocumentKind, ref string) bool {
	if a.SubmittedDocuments == nil {
		a.SubmittedDocuments = map[DocumentKind]string{}
	}
	prev, ok := a.SubmittedDocuments[kind]
	a.SubmittedDocuments[kind] = ref
	return !ok || prev != ref
}

// DocumentsComplete reports whether every required kind has been received.
func (a *BankingApplication) DocumentsComplete() bool {
	for kind, required := range a.RequiredDocuments {
		if !required {
			continue
		}
		if _, ok := a.SubmittedDocuments[kind]; !ok {
			return false
		}
	}
	return true
}

// MissingDocuments lists required kinds not yet received, in canonical order.
func (a *BankingApplication) MissingDocuments() []DocumentKind {
	var missing []DocumentKind
	for _, kind := range AllDocumentKinds {
		if !a.RequiredDocuments[kind] {
			continue
		}
		if _, ok := a.SubmittedDocuments[kind]; !ok {
			missing = append(missing, kind)
		}
	}
	return missing
}

// AssignProviderApplicationID sets the provider id. The id is write-once.
func (a *BankingApplication) AssignProviderApplicationID(id string) error {
	if a.ProviderApplicationID == "" {
		a.ProviderApplicationID = id
		return nil
	}
	if a.ProviderApplicationID == id {
		return nil
	}
	return ErrProviderIDAssigned
}

// Transition moves the application to next if the edge is allowed.
func (a *BankingApplication) Transition(next ApplicationStatus, reason string, now time.Time) error {
	if !CanTransition(a.Status, next) {
		return &TransitionError{From: a.Status, To: next}
	}
	a.Status = next
	if next.CarriesReason() {
		a.RejectionReason = reason
	} else {
		a.RejectionReason = ""
	}
	a.UpdatedAt = now
	return nil
}

// Clone returns a deep copy safe to mutate independently.
func (a *BankingApplication) Clone() *BankingApplication {
	if a == nil {
		return nil
	}
	c := *a
	c.RequiredDocuments = make(map[DocumentKind]bool, len(a.RequiredDocuments))
	for k, v := range a.RequiredDocuments {
		c.RequiredDocuments[k] = v
	}
	c.SubmittedDocuments = make(map[DocumentKind]string, len(a.SubmittedDocuments))
	for k, v := range a.SubmittedDocuments {
		c.SubmittedDocuments[k] = v
	}
	return &c
}

// Company is the tenant record owned by the platform's directory.
type Company struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	ProviderIdentityID string    `json:"provider_identity_id,omitempty"`
	BankingStatus      string    `json:"banking_status,omitempty"`
	WebhookID          string    `json:"webhook_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// CompanyPatch carries the fields the banking pipeline may update. Nil
// fields are left untouched.
type CompanyPatch struct {
	ProviderIdentityID *string
	BankingStatus      *string
	WebhookID          *string
}

// Apply writes the non-nil fields of p onto c.
func (p CompanyPatch) Apply(c *Company) {
	if p.ProviderIdentityID != nil {
		c.ProviderIdentityID = *p.ProviderIdentityID
	}
	if p.BankingStatus != nil {
		c.BankingStatus = *p.BankingStatus
	}
	if p.WebhookID != nil {
		c.WebhookID = *p.WebhookID
	}
}

// WebhookEvent is a provider push notification as received.
type WebhookEvent struct {
	EventID     string          `json:"event_id"`
	CompanyID   string          `json:"company_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
}

// Processed reports whether the event has already been applied.
func (e *WebhookEvent) Processed() bool {
	return e.ProcessedAt != nil
}

// Notification is a fire-and-forget message for a tenant's users.
type Notification struct {
	TenantID string `json:"tenant_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}
