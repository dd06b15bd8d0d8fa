package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
)

// Memory is an in-process implementation of every repository. It enforces
// the same uniqueness and merge rules as the Postgres schema and is used by
// tests and the local development mode.
type Memory struct {
	mu            sync.Mutex
	applications  map[string]*domain.BankingApplication
	companies     map[string]*domain.Company
	events        map[string]*domain.WebhookEvent
	ledgers       map[string]domain.Ledger
	cards         map[string]domain.Card
	beneficiaries map[string]domain.Beneficiary
	payments      map[string]domain.PaymentTransaction
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		applications:  map[string]*domain.BankingApplication{},
		companies:     map[string]*domain.Company{},
		events:        map[string]*domain.WebhookEvent{},
		ledgers:       map[string]domain.Ledger{},
		cards:         map[string]domain.Card{},
		beneficiaries: map[string]domain.Beneficiary{},
		payments:      map[string]domain.PaymentTransaction{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PutCompany seeds the tenant directory.
func (m *Memory) PutCompany(c domain.Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.companies[c.ID] = &c
}

func (m *Memory) CreateApplication(_ context.Context, app *domain.BankingApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applications[app.ID]; ok {
		return domain.ErrApplicationExists
	}
	for _, existing := range m.applications {
		if existing.TenantID == app.TenantID && existing.Status.Live() {
			return domain.ErrApplicationExists
		}
	}
	m.applications[app.ID] = app.Clone()
	return nil
}

func (m *Memory) GetApplication(_ context.Context, id string) (*domain.BankingApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return nil, domain.ErrApplicationNotFound
	}
	return app.Clone(), nil
}

func (m *Memory) FindApplicationByProviderID(_ context.Context, providerApplicationID string) (*domain.BankingApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.applications {
		if providerApplicationID != "" && app.ProviderApplicationID == providerApplicationID {
			return app.Clone(), nil
		}
	}
	return nil, domain.ErrApplicationNotFound
}

func (m *Memory) ListApplicationsByTenant(_ context.Context, tenantID string) ([]*domain.BankingApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var apps []*domain.BankingApplication
	for _, app := range m.applications {
		if app.TenantID == tenantID {
			apps = append(apps, app.Clone())
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.After(apps[j].CreatedAt) })
	return apps, nil
}

func (m *Memory) ListApplicationsByStatus(_ context.Context, statuses []domain.ApplicationStatus, limit int) ([]*domain.BankingApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[domain.ApplicationStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var apps []*domain.BankingApplication
	for _, app := range m.applications {
		if want[app.Status] {
			apps = append(apps, app.Clone())
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].UpdatedAt.Before(apps[j].UpdatedAt) })
	if limit > 0 && len(apps) > limit {
		apps = apps[:limit]
	}
	return apps, nil
}

func (m *Memory) UpdateApplication(_ context.Context, id string, fn func(*domain.BankingApplication) error) (*domain.BankingApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.applications[id]
	if !ok {
		return nil, domain.ErrApplicationNotFound
	}
	app := current.Clone()
	if err := fn(app); err != nil {
		if errors.Is(err, domain.ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	if app.ProviderApplicationID != "" && app.ProviderApplicationID != current.ProviderApplicationID {
		for otherID, other := range m.applications {
			if otherID != id && other.ProviderApplicationID == app.ProviderApplicationID {
				return nil, domain.ErrProviderIDAssigned
			}
		}
	}
	app.RequiredDocuments = current.Clone().RequiredDocuments
	app.Version = current.Version + 1
	app.UpdatedAt = m.now()
	m.applications[id] = app
	return app.Clone(), nil
}

func (m *Memory) GetCompany(_ context.Context, id string) (*domain.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return nil, domain.ErrCompanyNotFound
	}
	out := *c
	return &out, nil
}

func (m *Memory) UpdateCompany(_ context.Context, id string, patch domain.CompanyPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return domain.ErrCompanyNotFound
	}
	patch.Apply(c)
	return nil
}

func (m *Memory) SaveWebhookEvent(_ context.Context, ev *domain.WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.EventID]; ok {
		return false, nil
	}
	stored := *ev
	stored.Payload = append([]byte(nil), ev.Payload...)
	m.events[ev.EventID] = &stored
	return true, nil
}

func (m *Memory) GetWebhookEvent(_ context.Context, eventID string) (*domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	out := *ev
	return &out, nil
}

func (m *Memory) MarkWebhookProcessed(_ context.Context, eventID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok || ev.Processed() {
		return nil
	}
	ev.ProcessedAt = &at
	ev.Attempts++
	ev.LastError = ""
	return nil
}

func (m *Memory) MarkWebhookFailed(_ context.Context, eventID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok || ev.Processed() {
		return nil
	}
	ev.Attempts++
	ev.LastError = reason
	return nil
}

func (m *Memory) ListPendingWebhookEvents(_ context.Context, receivedBefore time.Time, limit int) ([]*domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []*domain.WebhookEvent
	for _, ev := range m.events {
		if !ev.Processed() && ev.ReceivedAt.Before(receivedBefore) {
			out := *ev
			events = append(events, &out)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ReceivedAt.Before(events[j].ReceivedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *Memory) UpsertLedger(_ context.Context, l domain.Ledger) (domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.ledgers[l.ID]; ok {
		if !domain.SameOwner(existing.CompanyID, l.CompanyID) {
			return domain.Ledger{}, domain.ErrTenantMismatch
		}
		l = existing.Merge(l)
	} else {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	m.ledgers[l.ID] = l
	return l, nil
}

func (m *Memory) GetLedger(_ context.Context, id string) (*domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	return &l, nil
}

func (m *Memory) ListLedgersByCompany(_ context.Context, companyID string) ([]domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ledgers []domain.Ledger
	for _, l := range m.ledgers {
		if l.CompanyID == companyID {
			ledgers = append(ledgers, l)
		}
	}
	sort.Slice(ledgers, func(i, j int) bool { return ledgers[i].CreatedAt.Before(ledgers[j].CreatedAt) })
	return ledgers, nil
}

func (m *Memory) UpsertCard(_ context.Context, c domain.Card) (domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.cards[c.ID]; ok {
		if !domain.SameOwner(existing.CompanyID, c.CompanyID) {
			return domain.Card{}, domain.ErrTenantMismatch
		}
		c = existing.Merge(c)
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.cards[c.ID] = c
	return c, nil
}

// GetCard is used by tests to observe webhook side effects.
func (m *Memory) GetCard(id string) (domain.Card, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	return c, ok
}

func (m *Memory) UpsertBeneficiary(_ context.Context, b domain.Beneficiary) (domain.Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.beneficiaries[b.ID]; ok {
		if !domain.SameOwner(existing.CompanyID, b.CompanyID) {
			return domain.Beneficiary{}, domain.ErrTenantMismatch
		}
		b = existing.Merge(b)
	} else {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	m.beneficiaries[b.ID] = b
	return b, nil
}

func (m *Memory) GetBeneficiary(_ context.Context, id string) (*domain.Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beneficiaries[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	return &b, nil
}

func (m *Memory) UpsertPayment(_ context.Context, p domain.PaymentTransaction) (domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.payments[p.ID]; ok {
		if !domain.SameOwner(existing.CompanyID, p.CompanyID) {
			return domain.PaymentTransaction{}, domain.ErrTenantMismatch
		}
		p = existing.Merge(p)
	} else {
		if p.Status == "" {
			p.Status = domain.PaymentPending
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.payments[p.ID] = p
	return p, nil
}

func (m *Memory) GetPayment(_ context.Context, id string) (*domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	return &p, nil
}

func (m *Memory) ListPendingPayments(_ context.Context, limit int) ([]domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var payments []domain.PaymentTransaction
	for _, p := range m.payments {
		if p.Status == domain.PaymentPending {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.Before(payments[j].CreatedAt) })
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

var (
	_ domain.ApplicationRepository  = (*Memory)(nil)
	_ domain.CompanyDirectory       = (*Memory)(nil)
	_ domain.WebhookEventRepository = (*Memory)(nil)
	_ domain.ResourceRepository     = (*Memory)(nil)

	_ domain.ApplicationRepository  = (*Store)(nil)
	_ domain.CompanyDirectory       = (*Store)(nil)
	_ domain.WebhookEventRepository = (*Store)(nil)
	_ domain.ResourceRepository     = (*Store)(nil)
)
