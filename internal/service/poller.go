package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/metrics"
)

// Reconciler reconciles a single application against the provider.
type Reconciler interface {
	Reconcile(ctx context.Context, applicationID string) error
}

// EventRetrier re-processes webhook events that never completed.
type EventRetrier interface {
	RetryPending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// TransactionSource lists a ledger's transactions at the provider.
type TransactionSource interface {
	GetTransactions(ctx context.Context, ledgerID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

type PollerConfig struct {
	Interval     time.Duration
	Delay        time.Duration
	BatchSize    int
	WebhookGrace time.Duration
}

// RunSummary reports what one reconciliation pass did.
type RunSummary struct {
	Checked         int
	Failed          int
	EventsRetried   int
	PaymentsUpdated int
}

// Poller is the safety net behind webhooks. Each pass reconciles in-flight
// applications, retries unfinished webhook events and refreshes pending
// payments.
type Poller struct {
	apps         domain.ApplicationRepository
	reconciler   Reconciler
	events       EventRetrier
	resources    domain.ResourceRepository
	transactions TransactionSource
	cfg          PollerConfig
	logger       *slog.Logger
}

func NewPoller(
	apps domain.ApplicationRepository,
	reconciler Reconciler,
	events EventRetrier,
	resources domain.ResourceRepository,
	transactions TransactionSource,
	cfg PollerConfig,
	logger *slog.Logger,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.WebhookGrace <= 0 {
		cfg.WebhookGrace = time.Minute
	}
	return &Poller{
		apps:         apps,
		reconciler:   reconciler,
		events:       events,
		resources:    resources,
		transactions: transactions,
		cfg:          cfg,
		logger:       logger,
	}
}

// Start runs a pass every interval until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("reconciliation poller started", "interval", p.cfg.Interval, "delay", p.cfg.Delay)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconciliation poller stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (p *Poller) RunOnce(ctx context.Context) RunSummary {
	var summary RunSummary

	apps, err := p.apps.ListApplicationsByStatus(ctx,
		[]domain.ApplicationStatus{domain.StatusSubmitted, domain.StatusUnderReview}, p.cfg.BatchSize)
	if err != nil {
		metrics.PollerRuns.WithLabelValues("error").Inc()
		p.logger.ErrorContext(ctx, "failed to list applications for reconciliation", "error", err)
		return summary
	}

	for i, app := range apps {
		if i > 0 && !p.sleep(ctx) {
			break
		}
		summary.Checked++
		metrics.PollerChecks.Inc()
		if err := p.reconciler.Reconcile(ctx, app.ID); err != nil {
			summary.Failed++
			p.logger.WarnContext(ctx, "reconciliation failed",
				"application_id", app.ID, "status", app.Status, "error", err)
		}
	}

	if p.events != nil && ctx.Err() == nil {
		n, err := p.events.RetryPending(ctx, p.cfg.WebhookGrace, p.cfg.BatchSize)
		if err != nil {
			summary.Failed++
			p.logger.WarnContext(ctx, "webhook retry failed", "error", err)
		}
		summary.EventsRetried = n
	}

	if p.transactions != nil && ctx.Err() == nil {
		summary.PaymentsUpdated = p.refreshPayments(ctx, &summary)
	}

	result := "ok"
	if summary.Failed > 0 {
		result = "partial"
	}
	metrics.PollerRuns.WithLabelValues(result).Inc()
	p.logger.InfoContext(ctx, "reconciliation pass finished",
		"checked", summary.Checked,
		"failed", summary.Failed,
		"events_retried", summary.EventsRetried,
		"payments_updated", summary.PaymentsUpdated,
	)
	return summary
}

// refreshPayments pulls the status of pending payments for ledgers whose
// transaction webhooks may have been lost.
func (p *Poller) refreshPayments(ctx context.Context, summary *RunSummary) int {
	pending, err := p.resources.ListPendingPayments(ctx, p.cfg.BatchSize)
	if err != nil {
		summary.Failed++
		p.logger.WarnContext(ctx, "failed to list pending payments", "error", err)
		return 0
	}

	byLedger := make(map[string][]domain.PaymentTransaction)
	var order []string
	for _, pay := range pending {
		if _, ok := byLedger[pay.LedgerID]; !ok {
			order = append(order, pay.LedgerID)
		}
		byLedger[pay.LedgerID] = append(byLedger[pay.LedgerID], pay)
	}

	updated := 0
	for i, ledgerID := range order {
		if i > 0 && !p.sleep(ctx) {
			break
		}
		payments := byLedger[ledgerID]
		from := payments[0].CreatedAt
		for _, pay := range payments[1:] {
			if pay.CreatedAt.Before(from) {
				from = pay.CreatedAt
			}
		}

		txs, err := p.transactions.GetTransactions(ctx, ledgerID, domain.TransactionFilter{From: from.Add(-time.Hour)})
		if err != nil {
			summary.Failed++
			p.logger.WarnContext(ctx, "failed to fetch ledger transactions", "ledger_id", ledgerID, "error", err)
			continue
		}
		status := make(map[string]domain.PaymentStatus, len(txs))
		for _, tx := range txs {
			status[tx.ID] = tx.Status
		}

		for _, pay := range payments {
			s, ok := status[pay.ID]
			if !ok || s == domain.PaymentPending || s == "" {
				continue
			}
			if _, err := p.resources.UpsertPayment(ctx, domain.PaymentTransaction{ID: pay.ID, Status: s}); err != nil {
				summary.Failed++
				p.logger.WarnContext(ctx, "failed to update payment", "payment_id", pay.ID, "error", err)
				continue
			}
			updated++
		}
	}
	return updated
}

func (p *Poller) sleep(ctx context.Context) bool {
	if p.cfg.Delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.cfg.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
