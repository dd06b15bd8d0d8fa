package models

import (
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/shopspring/decimal"
)

// StartApplicationRequest is the payload that opens a banking application.
type StartApplicationRequest struct {
	TenantID     string              `json:"tenant_id"`
	BusinessInfo domain.BusinessInfo `json:"business_info"`
}

// UploadDocumentRequest registers one stored document against an application.
type UploadDocumentRequest struct {
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
}

// ApplicationResponse is the canonical application view.
type ApplicationResponse struct {
	*domain.BankingApplication
	MissingDocuments []domain.DocumentKind `json:"missing_documents"`
}

func NewApplicationResponse(app *domain.BankingApplication) ApplicationResponse {
	missing := app.MissingDocuments()
	if missing == nil {
		missing = []domain.DocumentKind{}
	}
	return ApplicationResponse{BankingApplication: app, MissingDocuments: missing}
}

type OpenLedgerRequest struct {
	Currency string `json:"currency"`
}

type IssueCardRequest struct {
	CardType string `json:"card_type"`
}

// PaymentRequest is the payload from the client. The idempotency key travels
// in the Idempotency-Key header.
type PaymentRequest struct {
	BeneficiaryID string          `json:"beneficiary_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
}

// TransactionsQuery holds the parsed query string of a transaction listing.
type TransactionsQuery struct {
	From   time.Time
	To     time.Time
	Status string
	Limit  int
}

// WebhookAck is returned for every well-formed webhook delivery.
type WebhookAck struct {
	Received bool `json:"received"`
}
