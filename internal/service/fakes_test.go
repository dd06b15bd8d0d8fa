package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/lock"
	"github.com/punchamoorthee/freightbank/internal/logging"
	"github.com/punchamoorthee/freightbank/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeProvider stands in for the provider gateway.
type fakeProvider struct {
	mu sync.Mutex

	createCalls int
	createKeys  []string
	createErr   error
	identityID  string

	statusCalls int
	status      string
	reason      string
	statusErr   error

	payments     []PaymentRequest
	balance      domain.Balance
	transactions map[string][]domain.Transaction
	txFilters    map[string]domain.TransactionFilter
	callbackURL  string
	seq          int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		identityID:   "eu_1",
		status:       "pending",
		transactions: map[string][]domain.Transaction{},
		txFilters:    map[string]domain.TransactionFilter{},
	}
}

func (f *fakeProvider) setCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *fakeProvider) setStatus(status, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.reason = status, reason
}

func (f *fakeProvider) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeProvider) CreateIdentity(ctx context.Context, info domain.BusinessInfo, idempotencyKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.createKeys = append(f.createKeys, idempotencyKey)
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.identityID, nil
}

func (f *fakeProvider) GetIdentityStatus(ctx context.Context, identityID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return "", "", f.statusErr
	}
	return f.status, f.reason, nil
}

func (f *fakeProvider) nextID(prefix string) string {
	f.seq++
	return prefix + strconv.Itoa(f.seq)
}

func (f *fakeProvider) CreateLedger(ctx context.Context, identityID, currency string) (domain.LedgerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.LedgerResult{ID: f.nextID("led_"), AccountNumber: "000123456", Status: "active"}, nil
}

func (f *fakeProvider) CreateCard(ctx context.Context, ledgerID, cardType string) (domain.CardResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.CardResult{ID: f.nextID("card_"), LastFour: "4242", Expiry: "12/29", Status: "active"}, nil
}

func (f *fakeProvider) CreateBeneficiary(ctx context.Context, identityID string, info domain.BeneficiaryInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "ben_" + info.AccountNumber, nil
}

func (f *fakeProvider) ProcessPayment(ctx context.Context, ledgerID, beneficiaryID string, amount decimal.Decimal, currency, reference, idempotencyKey string) (domain.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, PaymentRequest{
		LedgerID:       ledgerID,
		BeneficiaryID:  beneficiaryID,
		Amount:         amount,
		Currency:       currency,
		Reference:      reference,
		IdempotencyKey: idempotencyKey,
	})
	return domain.PaymentResult{ID: "tx_" + idempotencyKey, Status: domain.PaymentPending}, nil
}

func (f *fakeProvider) GetBalance(ctx context.Context, ledgerID string) (domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeProvider) GetTransactions(ctx context.Context, ledgerID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txFilters[ledgerID] = filter
	return f.transactions[ledgerID], nil
}

func (f *fakeProvider) RegisterWebhooks(ctx context.Context, callbackURL string) (domain.WebhookRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbackURL = callbackURL
	return domain.WebhookRegistration{ID: "wh_1", EventTypes: domain.SubscribedEventTypes}, nil
}

// recordingNotifier keeps every notification it is handed.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Title)
	}
	return out
}

type fixture struct {
	db           *store.Memory
	provider     *fakeProvider
	notifier     *recordingNotifier
	orchestrator *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.NewMemory()
	db.PutCompany(domain.Company{ID: "c1", Name: "Acme Freight"})
	db.PutCompany(domain.Company{ID: "c2", Name: "Big Rig Carriers"})

	f := &fixture{
		db:       db,
		provider: newFakeProvider(),
		notifier: &recordingNotifier{},
	}
	f.orchestrator = NewOrchestrator(db, db, f.provider, lock.NewLocal(), f.notifier, logging.Discard())
	f.orchestrator.SubmitTimeout = 5 * time.Second
	return f
}

var shipperInfo = domain.BusinessInfo{
	LegalName: "Acme Freight LLC",
	EIN:       "12-3456789",
	Address:   domain.Address{Line1: "1 Main St", City: "Dallas", State: "TX", PostalCode: "75201", Country: "US"},
	Contact:   domain.Contact{Name: "Pat Doe", Email: "pat@acme.example"},
}

var carrierInfo = domain.BusinessInfo{
	LegalName: "Big Rig Carriers Inc",
	EIN:       "98-7654321",
	DOTNumber: "1234567",
	MCNumber:  "MC-556677",
}

// seedApplication stores an application directly in the given state.
func (f *fixture) seedApplication(t *testing.T, tenantID string, status domain.ApplicationStatus, providerID string) *domain.BankingApplication {
	t.Helper()
	app := domain.NewBankingApplication("app-"+tenantID, tenantID, shipperInfo, time.Now().UTC())
	for kind, required := range app.RequiredDocuments {
		if required {
			app.RecordDocument(kind, "ref-"+string(kind))
		}
	}
	app.Status = status
	app.ProviderApplicationID = providerID
	require.NoError(t, f.db.CreateApplication(context.Background(), app))
	return app
}

func (f *fixture) company(t *testing.T, id string) *domain.Company {
	t.Helper()
	c, err := f.db.GetCompany(context.Background(), id)
	require.NoError(t, err)
	return c
}
