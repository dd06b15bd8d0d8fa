package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle of a provider payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal reports whether the payment has settled one way or the other.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// NextPaymentStatus resolves a status update against the current one.
// Settled payments never move back to pending.
func NextPaymentStatus(current, incoming PaymentStatus) PaymentStatus {
	if incoming == "" {
		return current
	}
	if current.Terminal() {
		return current
	}
	return incoming
}

// SameOwner reports whether an observation scoped to companyID may touch a
// row owned by owner. Unowned rows and unscoped observations always match.
func SameOwner(owner, companyID string) bool {
	return owner == "" || companyID == "" || owner == companyID
}

// Ledger mirrors a provider account holding a balance.
type Ledger struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"company_id"`
	IdentityID    string    `json:"identity_id"`
	Currency      string    `json:"currency"`
	AccountNumber string    `json:"account_number,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Merge folds a newer observation into l. Empty fields never erase known
// values, so webhook-first and response-first orderings converge. The owning
// company is set once; callers check SameOwner before merging.
func (l Ledger) Merge(n Ledger) Ledger {
	l.CompanyID = coalesce(l.CompanyID, n.CompanyID)
	l.IdentityID = coalesce(n.IdentityID, l.IdentityID)
	l.Currency = coalesce(n.Currency, l.Currency)
	l.AccountNumber = coalesce(n.AccountNumber, l.AccountNumber)
	l.Status = coalesce(n.Status, l.Status)
	return l
}

// Card mirrors a provider card. Only the last four digits are kept.
type Card struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	LedgerID  string    `json:"ledger_id"`
	CardType  string    `json:"card_type"`
	LastFour  string    `json:"last_four"`
	Expiry    string    `json:"expiry"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Card) Merge(n Card) Card {
	c.CompanyID = coalesce(c.CompanyID, n.CompanyID)
	c.LedgerID = coalesce(n.LedgerID, c.LedgerID)
	c.CardType = coalesce(n.CardType, c.CardType)
	c.LastFour = coalesce(n.LastFour, c.LastFour)
	c.Expiry = coalesce(n.Expiry, c.Expiry)
	c.Status = coalesce(n.Status, c.Status)
	return c
}

// Beneficiary is a payee registered with the provider.
type Beneficiary struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"company_id"`
	IdentityID    string    `json:"identity_id"`
	Name          string    `json:"name"`
	AccountNumber string    `json:"account_number"`
	RoutingNumber string    `json:"routing_number"`
	BankName      string    `json:"bank_name,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (b Beneficiary) Merge(n Beneficiary) Beneficiary {
	b.CompanyID = coalesce(b.CompanyID, n.CompanyID)
	b.IdentityID = coalesce(n.IdentityID, b.IdentityID)
	b.Name = coalesce(n.Name, b.Name)
	b.AccountNumber = coalesce(n.AccountNumber, b.AccountNumber)
	b.RoutingNumber = coalesce(n.RoutingNumber, b.RoutingNumber)
	b.BankName = coalesce(n.BankName, b.BankName)
	b.Status = coalesce(n.Status, b.Status)
	return b
}

// PaymentTransaction mirrors an outbound payment.
type PaymentTransaction struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"company_id"`
	LedgerID      string          `json:"ledger_id"`
	BeneficiaryID string          `json:"beneficiary_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
	Status        PaymentStatus   `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p PaymentTransaction) Merge(n PaymentTransaction) PaymentTransaction {
	p.CompanyID = coalesce(p.CompanyID, n.CompanyID)
	p.LedgerID = coalesce(n.LedgerID, p.LedgerID)
	p.BeneficiaryID = coalesce(n.BeneficiaryID, p.BeneficiaryID)
	if p.Amount.IsZero() {
		p.Amount = n.Amount
	}
	p.Currency = coalesce(n.Currency, p.Currency)
	p.Reference = coalesce(n.Reference, p.Reference)
	if !p.Status.Terminal() {
		p.FailureReason = coalesce(n.FailureReason, p.FailureReason)
	}
	p.Status = NextPaymentStatus(p.Status, n.Status)
	return p
}

// BeneficiaryInfo is the payee profile sent to the provider.
type BeneficiaryInfo struct {
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number"`
	BankName      string `json:"bank_name,omitempty"`
}

// Balance is a read-through view of a ledger's funds.
type Balance struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

// TransactionFilter narrows a ledger transaction listing.
type TransactionFilter struct {
	From   time.Time
	To     time.Time
	Status PaymentStatus
	Limit  int
}

// Transaction is a ledger entry as reported by the provider.
type Transaction struct {
	ID            string          `json:"id"`
	LedgerID      string          `json:"ledger_id"`
	BeneficiaryID string          `json:"beneficiary_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Direction     string          `json:"direction"`
	Status        PaymentStatus   `json:"status"`
	Reference     string          `json:"reference,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerResult is what the provider returns when a ledger opens.
type LedgerResult struct {
	ID            string
	AccountNumber string
	Status        string
}

// CardResult is what the provider returns when a card is issued.
type CardResult struct {
	ID       string
	LastFour string
	Expiry   string
	Status   string
}

// PaymentResult is what the provider returns when a payment is accepted.
type PaymentResult struct {
	ID     string
	Status PaymentStatus
}

// WebhookRegistration is the provider's acknowledgement of a subscription.
type WebhookRegistration struct {
	ID         string   `json:"id"`
	EventTypes []string `json:"event_types"`
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
