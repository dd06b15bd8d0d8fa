package domain

import (
	"context"
	"time"
)

// ApplicationRepository persists banking applications.
type ApplicationRepository interface {
	// CreateApplication fails with ErrApplicationExists when the tenant
	// already has a live application.
	CreateApplication(ctx context.Context, app *BankingApplication) error
	GetApplication(ctx context.Context, id string) (*BankingApplication, error)
	FindApplicationByProviderID(ctx context.Context, providerApplicationID string) (*BankingApplication, error)
	ListApplicationsByTenant(ctx context.Context, tenantID string) ([]*BankingApplication, error)
	ListApplicationsByStatus(ctx context.Context, statuses []ApplicationStatus, limit int) ([]*BankingApplication, error)
	// UpdateApplication runs fn on the current row and persists the result
	// in one transaction. fn returning ErrNoChange skips the write.
	UpdateApplication(ctx context.Context, id string, fn func(*BankingApplication) error) (*BankingApplication, error)
}

// CompanyDirectory is the tenant directory owned by the wider platform.
type CompanyDirectory interface {
	GetCompany(ctx context.Context, id string) (*Company, error)
	UpdateCompany(ctx context.Context, id string, patch CompanyPatch) error
}

// WebhookEventRepository records inbound provider events for dedupe.
type WebhookEventRepository interface {
	// SaveWebhookEvent inserts the event unless its id is already known and
	// reports whether it was inserted.
	SaveWebhookEvent(ctx context.Context, event *WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, eventID string, at time.Time) error
	MarkWebhookFailed(ctx context.Context, eventID string, reason string) error
	ListPendingWebhookEvents(ctx context.Context, receivedBefore time.Time, limit int) ([]*WebhookEvent, error)
}

// ResourceRepository mirrors provider-owned resources.
type ResourceRepository interface {
	UpsertLedger(ctx context.Context, l Ledger) (Ledger, error)
	GetLedger(ctx context.Context, id string) (*Ledger, error)
	ListLedgersByCompany(ctx context.Context, companyID string) ([]Ledger, error)
	UpsertCard(ctx context.Context, c Card) (Card, error)
	UpsertBeneficiary(ctx context.Context, b Beneficiary) (Beneficiary, error)
	GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error)
	UpsertPayment(ctx context.Context, p PaymentTransaction) (PaymentTransaction, error)
	GetPayment(ctx context.Context, id string) (*PaymentTransaction, error)
	ListPendingPayments(ctx context.Context, limit int) ([]PaymentTransaction, error)
}
