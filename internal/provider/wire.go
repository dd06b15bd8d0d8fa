package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider request and response bodies. These never leave the package.

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	ExistingID string `json:"existing_id"`
}

func (e errorBody) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

type addressWire struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type contactWire struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type createIdentityRequest struct {
	Type             string      `json:"type"`
	LegalName        string      `json:"legalName"`
	DoingBusinessAs  string      `json:"doingBusinessAs,omitempty"`
	TaxID            string      `json:"taxId"`
	RegulatoryIDs    regulatory  `json:"regulatoryIds,omitempty"`
	RegisteredOffice addressWire `json:"registeredOffice"`
	Contact          contactWire `json:"contact"`
	ExternalRef      string      `json:"externalReference"`
}

type regulatory struct {
	USDOT string `json:"usdot,omitempty"`
	MC    string `json:"mc,omitempty"`
}

type identityResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	StatusReason string `json:"statusReason,omitempty"`
}

type identityList struct {
	Endusers []identitySummary `json:"endusers"`
}

type identitySummary struct {
	ID          string `json:"id"`
	ExternalRef string `json:"externalReference"`
	Status      string `json:"status"`
}

type createLedgerRequest struct {
	IdentityID string `json:"enduserId"`
	Currency   string `json:"currency"`
}

type ledgerResponse struct {
	ID            string `json:"id"`
	AccountNumber string `json:"accountNumber,omitempty"`
	Status        string `json:"status"`
}

type createCardRequest struct {
	LedgerID string `json:"ledgerId"`
	CardType string `json:"cardType"`
}

type cardResponse struct {
	ID       string `json:"id"`
	LastFour string `json:"lastFour"`
	Expiry   string `json:"expiry"`
	Status   string `json:"status"`
}

type createBeneficiaryRequest struct {
	IdentityID    string `json:"enduserId"`
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	RoutingNumber string `json:"routingNumber"`
	BankName      string `json:"bankName,omitempty"`
}

type beneficiaryResponse struct {
	ID            string `json:"id"`
	AccountNumber string `json:"accountNumber"`
	RoutingNumber string `json:"routingNumber"`
}

type beneficiaryList struct {
	Beneficiaries []beneficiaryResponse `json:"beneficiaries"`
}

type createPaymentRequest struct {
	LedgerID      string          `json:"ledgerId"`
	BeneficiaryID string          `json:"beneficiaryId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
}

type paymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type balanceResponse struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

type transactionWire struct {
	ID            string          `json:"id"`
	LedgerID      string          `json:"ledgerId"`
	BeneficiaryID string          `json:"beneficiaryId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Direction     string          `json:"direction"`
	Status        string          `json:"status"`
	Reference     string          `json:"reference,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type transactionList struct {
	Transactions []transactionWire `json:"transactions"`
}

type registerWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type webhookResponse struct {
	ID     string   `json:"id"`
	Events []string `json:"events"`
}
