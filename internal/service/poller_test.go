package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/logging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetrier struct {
	calls     int
	olderThan time.Duration
	retried   int
	err       error
}

func (s *stubRetrier) RetryPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	s.calls++
	s.olderThan = olderThan
	return s.retried, s.err
}

// signalReconciler reports every reconciled id on a channel.
type signalReconciler struct {
	mu  sync.Mutex
	ids []string
	ch  chan string
}

func (s *signalReconciler) Reconcile(ctx context.Context, applicationID string) error {
	s.mu.Lock()
	s.ids = append(s.ids, applicationID)
	s.mu.Unlock()
	select {
	case s.ch <- applicationID:
	default:
	}
	return nil
}

func TestPoller_RunOnceAdvancesInFlightApplications(t *testing.T) {
	f := newFixture(t)
	submitted := f.seedApplication(t, "c1", domain.StatusSubmitted, "")
	f.provider.identityID = "eu_2"
	reviewed := f.seedApplication(t, "c2", domain.StatusUnderReview, "eu_9")
	f.provider.setStatus("approved", "")

	db := f.db
	p := NewPoller(db, f.orchestrator, nil, db, nil, PollerConfig{}, logging.Discard())
	summary := p.RunOnce(context.Background())

	assert.Equal(t, 2, summary.Checked)
	assert.Zero(t, summary.Failed)

	got, err := db.GetApplication(context.Background(), submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, got.Status)
	assert.Equal(t, "eu_2", got.ProviderApplicationID)

	got, err = db.GetApplication(context.Background(), reviewed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
}

func TestPoller_IgnoresSettledApplications(t *testing.T) {
	f := newFixture(t)
	f.seedApplication(t, "c1", domain.StatusDraft, "")
	f.seedApplication(t, "c2", domain.StatusApproved, "eu_2")

	rec := &signalReconciler{ch: make(chan string, 1)}
	p := NewPoller(f.db, rec, nil, f.db, nil, PollerConfig{}, logging.Discard())
	summary := p.RunOnce(context.Background())

	assert.Zero(t, summary.Checked)
	assert.Empty(t, rec.ids)
}

func TestPoller_CountsFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	f.seedApplication(t, "c1", domain.StatusSubmitted, "")
	f.seedApplication(t, "c2", domain.StatusUnderReview, "eu_9")
	f.provider.setCreateErr(&domain.ProviderError{Kind: domain.ErrProviderUnavailable, Op: "create_identity"})
	f.provider.setStatus("approved", "")

	p := NewPoller(f.db, f.orchestrator, nil, f.db, nil, PollerConfig{}, logging.Discard())
	summary := p.RunOnce(context.Background())

	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Failed)

	got, err := f.db.GetApplication(context.Background(), "app-c2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
}

func TestPoller_RetriesPendingWebhooks(t *testing.T) {
	f := newFixture(t)
	retrier := &stubRetrier{retried: 3}

	p := NewPoller(f.db, f.orchestrator, retrier, f.db, nil, PollerConfig{WebhookGrace: 2 * time.Minute}, logging.Discard())
	summary := p.RunOnce(context.Background())

	assert.Equal(t, 1, retrier.calls)
	assert.Equal(t, 2*time.Minute, retrier.olderThan)
	assert.Equal(t, 3, summary.EventsRetried)

	retrier.err = errors.New("db down")
	summary = p.RunOnce(context.Background())
	assert.Equal(t, 1, summary.Failed)
}

func TestPoller_RefreshesPendingPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"tx_1", "tx_2", "tx_3"} {
		_, err := f.db.UpsertPayment(ctx, domain.PaymentTransaction{
			ID:       id,
			LedgerID: "led_1",
			Amount:   decimal.NewFromInt(100),
			Currency: "USD",
			Status:   domain.PaymentPending,
		})
		require.NoError(t, err)
	}
	oldest, err := f.db.GetPayment(ctx, "tx_1")
	require.NoError(t, err)

	f.provider.transactions["led_1"] = []domain.Transaction{
		{ID: "tx_1", Status: domain.PaymentCompleted},
		{ID: "tx_2", Status: domain.PaymentFailed},
		{ID: "tx_3", Status: domain.PaymentPending},
	}

	p := NewPoller(f.db, f.orchestrator, nil, f.db, f.provider, PollerConfig{}, logging.Discard())
	summary := p.RunOnce(ctx)

	assert.Equal(t, 2, summary.PaymentsUpdated)
	assert.False(t, f.provider.txFilters["led_1"].From.After(oldest.CreatedAt.Add(-time.Hour)))

	for id, want := range map[string]domain.PaymentStatus{
		"tx_1": domain.PaymentCompleted,
		"tx_2": domain.PaymentFailed,
		"tx_3": domain.PaymentPending,
	} {
		got, err := f.db.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(100)), id)
	}

	pending, err := f.db.ListPendingPayments(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPoller_StartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.seedApplication(t, "c1", domain.StatusUnderReview, "eu_1")

	rec := &signalReconciler{ch: make(chan string, 1)}
	p := NewPoller(f.db, rec, nil, f.db, nil, PollerConfig{Interval: 10 * time.Millisecond}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	select {
	case id := <-rec.ch:
		assert.Equal(t, "app-c1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("poller never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
