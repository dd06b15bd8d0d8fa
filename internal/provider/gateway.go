package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	opCreateIdentity    = "create_identity"
	opGetIdentity       = "get_identity"
	opListIdentities    = "list_identities"
	opCreateLedger      = "create_ledger"
	opCreateCard        = "create_card"
	opCreateBeneficiary = "create_beneficiary"
	opListBeneficiaries = "list_beneficiaries"
	opProcessPayment    = "process_payment"
	opGetBalance        = "get_balance"
	opGetTransactions   = "get_transactions"
	opRegisterWebhooks  = "register_webhooks"
)

// Gateway exposes domain-shaped provider operations. Every error it returns
// is a *domain.ProviderError.
type Gateway struct {
	client *Client
}

func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// CreateIdentity registers the tenant company as a provider end user. The
// idempotency key lets the provider collapse retried submissions.
func (g *Gateway) CreateIdentity(ctx context.Context, info domain.BusinessInfo, idempotencyKey string) (string, error) {
	if strings.TrimSpace(info.LegalName) == "" || strings.TrimSpace(info.EIN) == "" {
		return "", invalid(opCreateIdentity, "legal name and EIN are required")
	}

	req := createIdentityRequest{
		Type:            "business",
		LegalName:       info.LegalName,
		DoingBusinessAs: info.DBA,
		TaxID:           info.EIN,
		RegulatoryIDs:   regulatory{USDOT: info.DOTNumber, MC: info.MCNumber},
		RegisteredOffice: addressWire{
			Line1:      info.Address.Line1,
			Line2:      info.Address.Line2,
			City:       info.Address.City,
			State:      info.Address.State,
			PostalCode: info.Address.PostalCode,
			Country:    info.Address.Country,
		},
		Contact:     contactWire{Name: info.Contact.Name, Email: info.Contact.Email, Phone: info.Contact.Phone},
		ExternalRef: idempotencyKey,
	}

	resp, err := g.client.Do(ctx, opCreateIdentity, http.MethodPost, "/v1/endusers", req, RequestOptions{IdempotencyKey: idempotencyKey})
	if errors.Is(err, domain.ErrDuplicate) {
		return g.resolveIdentity(ctx, idempotencyKey, err)
	}
	if err != nil {
		return "", err
	}
	out, err := decode[identityResponse](opCreateIdentity, resp)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", malformed(opCreateIdentity, resp, "missing identity id")
	}
	return out.ID, nil
}

// resolveIdentity finds the end user an earlier submission created, first
// from the conflict body and then by its external reference.
func (g *Gateway) resolveIdentity(ctx context.Context, externalRef string, dupErr error) (string, error) {
	var pe *domain.ProviderError
	if errors.As(dupErr, &pe) {
		var eb errorBody
		if json.Unmarshal(pe.Body, &eb) == nil && eb.ExistingID != "" {
			return eb.ExistingID, nil
		}
	}

	if externalRef != "" {
		q := url.Values{"externalReference": {externalRef}}
		resp, err := g.client.Do(ctx, opListIdentities, http.MethodGet, "/v1/endusers", nil, RequestOptions{Query: q})
		if err != nil {
			return "", err
		}
		list, err := decode[identityList](opListIdentities, resp)
		if err != nil {
			return "", err
		}
		for _, u := range list.Endusers {
			if u.ExternalRef == externalRef && u.ID != "" {
				return u.ID, nil
			}
		}
	}
	return "", &domain.ProviderError{
		Kind:    domain.ErrNotFound,
		Op:      opCreateIdentity,
		Message: "provider reported a duplicate end user that could not be resolved",
		Err:     dupErr,
	}
}

// GetIdentityStatus returns the provider's raw review status for an identity.
func (g *Gateway) GetIdentityStatus(ctx context.Context, identityID string) (status, reason string, err error) {
	resp, err := g.client.Do(ctx, opGetIdentity, http.MethodGet, "/v1/endusers/"+url.PathEscape(identityID), nil, RequestOptions{})
	if err != nil {
		return "", "", err
	}
	out, err := decode[identityResponse](opGetIdentity, resp)
	if err != nil {
		return "", "", err
	}
	return out.Status, out.StatusReason, nil
}

func (g *Gateway) CreateLedger(ctx context.Context, identityID, currency string) (domain.LedgerResult, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if identityID == "" || len(currency) != 3 {
		return domain.LedgerResult{}, invalid(opCreateLedger, "identity id and ISO currency code are required")
	}
	resp, err := g.client.Do(ctx, opCreateLedger, http.MethodPost, "/v1/ledgers",
		createLedgerRequest{IdentityID: identityID, Currency: currency}, RequestOptions{})
	if err != nil {
		return domain.LedgerResult{}, err
	}
	out, err := decode[ledgerResponse](opCreateLedger, resp)
	if err != nil {
		return domain.LedgerResult{}, err
	}
	if out.ID == "" {
		return domain.LedgerResult{}, malformed(opCreateLedger, resp, "missing ledger id")
	}
	return domain.LedgerResult{ID: out.ID, AccountNumber: out.AccountNumber, Status: out.Status}, nil
}

func (g *Gateway) CreateCard(ctx context.Context, ledgerID, cardType string) (domain.CardResult, error) {
	if ledgerID == "" || cardType == "" {
		return domain.CardResult{}, invalid(opCreateCard, "ledger id and card type are required")
	}
	resp, err := g.client.Do(ctx, opCreateCard, http.MethodPost, "/v1/cards",
		createCardRequest{LedgerID: ledgerID, CardType: cardType}, RequestOptions{})
	if err != nil {
		return domain.CardResult{}, err
	}
	out, err := decode[cardResponse](opCreateCard, resp)
	if err != nil {
		return domain.CardResult{}, err
	}
	if out.ID == "" {
		return domain.CardResult{}, malformed(opCreateCard, resp, "missing card id")
	}
	return domain.CardResult{ID: out.ID, LastFour: out.LastFour, Expiry: out.Expiry, Status: out.Status}, nil
}

// CreateBeneficiary registers a payee. A payee the provider already knows
// resolves to its existing id.
func (g *Gateway) CreateBeneficiary(ctx context.Context, identityID string, info domain.BeneficiaryInfo) (string, error) {
	if identityID == "" || info.Name == "" || info.AccountNumber == "" || info.RoutingNumber == "" {
		return "", invalid(opCreateBeneficiary, "identity id, name, account and routing number are required")
	}
	req := createBeneficiaryRequest{
		IdentityID:    identityID,
		Name:          info.Name,
		AccountNumber: info.AccountNumber,
		RoutingNumber: info.RoutingNumber,
		BankName:      info.BankName,
	}
	resp, err := g.client.Do(ctx, opCreateBeneficiary, http.MethodPost, "/v1/beneficiaries", req, RequestOptions{})
	if err == nil {
		out, err := decode[beneficiaryResponse](opCreateBeneficiary, resp)
		if err != nil {
			return "", err
		}
		if out.ID == "" {
			return "", malformed(opCreateBeneficiary, resp, "missing beneficiary id")
		}
		return out.ID, nil
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		return "", err
	}
	return g.resolveBeneficiary(ctx, identityID, info, err)
}

func (g *Gateway) resolveBeneficiary(ctx context.Context, identityID string, info domain.BeneficiaryInfo, dupErr error) (string, error) {
	var pe *domain.ProviderError
	if errors.As(dupErr, &pe) {
		var eb errorBody
		if json.Unmarshal(pe.Body, &eb) == nil && eb.ExistingID != "" {
			return eb.ExistingID, nil
		}
	}

	q := url.Values{"enduserId": {identityID}}
	resp, err := g.client.Do(ctx, opListBeneficiaries, http.MethodGet, "/v1/beneficiaries", nil, RequestOptions{Query: q})
	if err != nil {
		return "", err
	}
	list, err := decode[beneficiaryList](opListBeneficiaries, resp)
	if err != nil {
		return "", err
	}
	for _, b := range list.Beneficiaries {
		if b.AccountNumber == info.AccountNumber && b.RoutingNumber == info.RoutingNumber {
			return b.ID, nil
		}
	}
	return "", &domain.ProviderError{
		Kind:    domain.ErrNotFound,
		Op:      opCreateBeneficiary,
		Message: "provider reported a duplicate beneficiary that could not be resolved",
		Err:     dupErr,
	}
}

// ProcessPayment initiates a payout. The provider settles it asynchronously,
// so the result is pending unless it says otherwise.
func (g *Gateway) ProcessPayment(ctx context.Context, ledgerID, beneficiaryID string, amount decimal.Decimal, currency, reference, idempotencyKey string) (domain.PaymentResult, error) {
	if ledgerID == "" || beneficiaryID == "" {
		return domain.PaymentResult{}, invalid(opProcessPayment, "ledger and beneficiary are required")
	}
	if !amount.IsPositive() {
		return domain.PaymentResult{}, invalid(opProcessPayment, "amount must be positive")
	}
	req := createPaymentRequest{
		LedgerID:      ledgerID,
		BeneficiaryID: beneficiaryID,
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		Reference:     reference,
	}
	resp, err := g.client.Do(ctx, opProcessPayment, http.MethodPost, "/v1/payments", req, RequestOptions{IdempotencyKey: idempotencyKey})
	if err != nil {
		return domain.PaymentResult{}, err
	}
	out, err := decode[paymentResponse](opProcessPayment, resp)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if out.ID == "" {
		return domain.PaymentResult{}, malformed(opProcessPayment, resp, "missing transaction id")
	}
	return domain.PaymentResult{ID: out.ID, Status: paymentStatus(out.Status)}, nil
}

func (g *Gateway) GetBalance(ctx context.Context, ledgerID string) (domain.Balance, error) {
	resp, err := g.client.Do(ctx, opGetBalance, http.MethodGet, "/v1/ledgers/"+url.PathEscape(ledgerID)+"/balance", nil, RequestOptions{})
	if err != nil {
		return domain.Balance{}, err
	}
	out, err := decode[balanceResponse](opGetBalance, resp)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{Amount: out.Amount, Currency: out.Currency, Status: out.Status}, nil
}

func (g *Gateway) GetTransactions(ctx context.Context, ledgerID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	q := url.Values{}
	if !filter.From.IsZero() {
		q.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		q.Set("to", filter.To.UTC().Format(time.RFC3339))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	resp, err := g.client.Do(ctx, opGetTransactions, http.MethodGet, "/v1/ledgers/"+url.PathEscape(ledgerID)+"/transactions", nil, RequestOptions{Query: q})
	if err != nil {
		return nil, err
	}
	list, err := decode[transactionList](opGetTransactions, resp)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Transaction, 0, len(list.Transactions))
	for _, t := range list.Transactions {
		out = append(out, domain.Transaction{
			ID:            t.ID,
			LedgerID:      coalesceID(t.LedgerID, ledgerID),
			BeneficiaryID: t.BeneficiaryID,
			Amount:        t.Amount,
			Currency:      t.Currency,
			Direction:     t.Direction,
			Status:        paymentStatus(t.Status),
			Reference:     t.Reference,
			CreatedAt:     t.CreatedAt,
		})
	}
	return out, nil
}

func (g *Gateway) RegisterWebhooks(ctx context.Context, callbackURL string) (domain.WebhookRegistration, error) {
	if _, err := url.ParseRequestURI(callbackURL); err != nil {
		return domain.WebhookRegistration{}, invalid(opRegisterWebhooks, "callback url is invalid")
	}
	resp, err := g.client.Do(ctx, opRegisterWebhooks, http.MethodPost, "/v1/webhooks",
		registerWebhookRequest{URL: callbackURL, Events: domain.SubscribedEventTypes}, RequestOptions{})
	if err != nil {
		return domain.WebhookRegistration{}, err
	}
	out, err := decode[webhookResponse](opRegisterWebhooks, resp)
	if err != nil {
		return domain.WebhookRegistration{}, err
	}
	return domain.WebhookRegistration{ID: out.ID, EventTypes: out.Events}, nil
}

func decode[T any](op string, resp *Response) (T, error) {
	var out T
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, &domain.ProviderError{
			Kind:       domain.ErrProviderUnavailable,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "malformed provider response",
			Body:       resp.Body,
			Err:        err,
		}
	}
	return out, nil
}

func malformed(op string, resp *Response, msg string) error {
	return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Op: op, StatusCode: resp.StatusCode, Message: msg, Body: resp.Body}
}

func invalid(op, msg string) error {
	return &domain.ProviderError{Kind: domain.ErrValidation, Op: op, Message: msg}
}

func paymentStatus(s string) domain.PaymentStatus {
	switch strings.ToLower(s) {
	case "completed", "settled", "succeeded":
		return domain.PaymentCompleted
	case "failed", "returned", "cancelled", "rejected":
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}

func coalesceID(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
