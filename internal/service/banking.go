package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/shopspring/decimal"
)

// BankingProvider is the slice of the provider gateway used once a tenant
// has been approved.
type BankingProvider interface {
	CreateLedger(ctx context.Context, identityID, currency string) (domain.LedgerResult, error)
	CreateCard(ctx context.Context, ledgerID, cardType string) (domain.CardResult, error)
	CreateBeneficiary(ctx context.Context, identityID string, info domain.BeneficiaryInfo) (string, error)
	ProcessPayment(ctx context.Context, ledgerID, beneficiaryID string, amount decimal.Decimal, currency, reference, idempotencyKey string) (domain.PaymentResult, error)
	GetBalance(ctx context.Context, ledgerID string) (domain.Balance, error)
	GetTransactions(ctx context.Context, ledgerID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
	RegisterWebhooks(ctx context.Context, callbackURL string) (domain.WebhookRegistration, error)
}

// PaymentRequest is an outbound payment to a registered beneficiary.
type PaymentRequest struct {
	LedgerID       string
	BeneficiaryID  string
	Amount         decimal.Decimal
	Currency       string
	Reference      string
	IdempotencyKey string
}

// Banking creates provider resources for approved tenants and mirrors them
// locally. Webhooks for the same resources merge into the same rows.
type Banking struct {
	apps      domain.ApplicationRepository
	companies domain.CompanyDirectory
	resources domain.ResourceRepository
	provider  BankingProvider
	logger    *slog.Logger
}

func NewBanking(
	apps domain.ApplicationRepository,
	companies domain.CompanyDirectory,
	resources domain.ResourceRepository,
	provider BankingProvider,
	logger *slog.Logger,
) *Banking {
	return &Banking{
		apps:      apps,
		companies: companies,
		resources: resources,
		provider:  provider,
		logger:    logger,
	}
}

// approvedIdentity returns the provider identity of the company's approved
// application.
func (b *Banking) approvedIdentity(ctx context.Context, companyID string) (string, error) {
	if _, err := b.companies.GetCompany(ctx, companyID); err != nil {
		return "", err
	}
	apps, err := b.apps.ListApplicationsByTenant(ctx, companyID)
	if err != nil {
		return "", err
	}
	for _, app := range apps {
		if app.Status == domain.StatusApproved && app.ProviderApplicationID != "" {
			return app.ProviderApplicationID, nil
		}
	}
	return "", domain.ErrNotApproved
}

func (b *Banking) OpenLedger(ctx context.Context, companyID, currency string) (domain.Ledger, error) {
	identityID, err := b.approvedIdentity(ctx, companyID)
	if err != nil {
		return domain.Ledger{}, err
	}

	res, err := b.provider.CreateLedger(ctx, identityID, currency)
	if err != nil {
		return domain.Ledger{}, err
	}

	ledger, err := b.resources.UpsertLedger(ctx, domain.Ledger{
		ID:            res.ID,
		CompanyID:     companyID,
		IdentityID:    identityID,
		Currency:      strings.ToUpper(currency),
		AccountNumber: res.AccountNumber,
		Status:        res.Status,
	})
	if err != nil {
		return domain.Ledger{}, err
	}
	b.logger.InfoContext(ctx, "ledger opened", "company_id", companyID, "ledger_id", ledger.ID)
	return ledger, nil
}

func (b *Banking) IssueCard(ctx context.Context, ledgerID, cardType string) (domain.Card, error) {
	ledger, err := b.resources.GetLedger(ctx, ledgerID)
	if err != nil {
		return domain.Card{}, err
	}
	if _, err := b.approvedIdentity(ctx, ledger.CompanyID); err != nil {
		return domain.Card{}, err
	}

	res, err := b.provider.CreateCard(ctx, ledgerID, cardType)
	if err != nil {
		return domain.Card{}, err
	}

	card, err := b.resources.UpsertCard(ctx, domain.Card{
		ID:        res.ID,
		CompanyID: ledger.CompanyID,
		LedgerID:  ledgerID,
		CardType:  cardType,
		LastFour:  res.LastFour,
		Expiry:    res.Expiry,
		Status:    res.Status,
	})
	if err != nil {
		return domain.Card{}, err
	}
	b.logger.InfoContext(ctx, "card issued", "ledger_id", ledgerID, "card_id", card.ID)
	return card, nil
}

// AddBeneficiary registers a payee. Registering the same account twice
// resolves to the existing beneficiary.
func (b *Banking) AddBeneficiary(ctx context.Context, companyID string, info domain.BeneficiaryInfo) (domain.Beneficiary, error) {
	identityID, err := b.approvedIdentity(ctx, companyID)
	if err != nil {
		return domain.Beneficiary{}, err
	}

	id, err := b.provider.CreateBeneficiary(ctx, identityID, info)
	if err != nil {
		return domain.Beneficiary{}, err
	}

	return b.resources.UpsertBeneficiary(ctx, domain.Beneficiary{
		ID:            id,
		CompanyID:     companyID,
		IdentityID:    identityID,
		Name:          info.Name,
		AccountNumber: info.AccountNumber,
		RoutingNumber: info.RoutingNumber,
		BankName:      info.BankName,
		Status:        "active",
	})
}

func (b *Banking) PayBeneficiary(ctx context.Context, req PaymentRequest) (domain.PaymentTransaction, error) {
	if req.IdempotencyKey == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: idempotency key is required", domain.ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}

	ledger, err := b.resources.GetLedger(ctx, req.LedgerID)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	beneficiary, err := b.resources.GetBeneficiary(ctx, req.BeneficiaryID)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	if beneficiary.CompanyID != ledger.CompanyID {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: beneficiary %s does not belong to the ledger's company",
			domain.ErrInvalidInput, req.BeneficiaryID)
	}
	if _, err := b.approvedIdentity(ctx, ledger.CompanyID); err != nil {
		return domain.PaymentTransaction{}, err
	}

	currency := req.Currency
	if currency == "" {
		currency = ledger.Currency
	}

	res, err := b.provider.ProcessPayment(ctx, req.LedgerID, req.BeneficiaryID, req.Amount, currency, req.Reference, req.IdempotencyKey)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}

	payment, err := b.resources.UpsertPayment(ctx, domain.PaymentTransaction{
		ID:            res.ID,
		CompanyID:     ledger.CompanyID,
		LedgerID:      req.LedgerID,
		BeneficiaryID: req.BeneficiaryID,
		Amount:        req.Amount,
		Currency:      currency,
		Reference:     req.Reference,
		Status:        res.Status,
	})
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	b.logger.InfoContext(ctx, "payment accepted",
		"ledger_id", req.LedgerID, "payment_id", payment.ID, "amount", req.Amount.String(), "status", payment.Status)
	return payment, nil
}

func (b *Banking) GetBalance(ctx context.Context, ledgerID string) (domain.Balance, error) {
	if _, err := b.resources.GetLedger(ctx, ledgerID); err != nil {
		return domain.Balance{}, err
	}
	return b.provider.GetBalance(ctx, ledgerID)
}

func (b *Banking) ListTransactions(ctx context.Context, ledgerID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if _, err := b.resources.GetLedger(ctx, ledgerID); err != nil {
		return nil, err
	}
	return b.provider.GetTransactions(ctx, ledgerID, filter)
}

// RegisterWebhooks subscribes the company's callback endpoint and records
// the subscription id on the company.
func (b *Banking) RegisterWebhooks(ctx context.Context, companyID, baseURL string) (domain.WebhookRegistration, error) {
	if _, err := b.companies.GetCompany(ctx, companyID); err != nil {
		return domain.WebhookRegistration{}, err
	}
	if baseURL == "" {
		return domain.WebhookRegistration{}, fmt.Errorf("%w: webhook base url is not configured", domain.ErrInvalidInput)
	}

	callback := strings.TrimRight(baseURL, "/") + "/webhooks/" + companyID
	reg, err := b.provider.RegisterWebhooks(ctx, callback)
	if err != nil {
		return domain.WebhookRegistration{}, err
	}
	if err := b.companies.UpdateCompany(ctx, companyID, domain.CompanyPatch{WebhookID: &reg.ID}); err != nil {
		return domain.WebhookRegistration{}, err
	}
	b.logger.InfoContext(ctx, "webhooks registered", "company_id", companyID, "webhook_id", reg.ID, "url", callback)
	return reg, nil
}
