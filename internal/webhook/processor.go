package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/lock"
	"github.com/punchamoorthee/freightbank/internal/metrics"
)

// StatusApplier applies identity status pushes to banking applications.
// companyID is the tenant the delivery was addressed to.
type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, companyID, identityID, providerStatus, reason string) error
}

// IngestResult describes what happened to a delivery.
type IngestResult struct {
	EventID   string
	Type      string
	Duplicate bool
}

type Processor struct {
	events    domain.WebhookEventRepository
	resources domain.ResourceRepository
	statuses  StatusApplier
	locker    lock.Locker
	logger    *slog.Logger

	// ProcessTimeout bounds background processing of one event.
	ProcessTimeout time.Duration
	// MaxAttempts stops retrying an event after this many failures.
	MaxAttempts int

	now func() time.Time
	wg  sync.WaitGroup
}

func NewProcessor(
	events domain.WebhookEventRepository,
	resources domain.ResourceRepository,
	statuses StatusApplier,
	locker lock.Locker,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		events:         events,
		resources:      resources,
		statuses:       statuses,
		locker:         locker,
		logger:         logger,
		ProcessTimeout: time.Minute,
		MaxAttempts:    20,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// EventID returns the dedupe key of a delivery: the envelope id when
// present, otherwise a digest of the company id and the raw body.
func EventID(companyID string, env Envelope, raw []byte) string {
	if env.ID != "" {
		return env.ID
	}
	h := sha256.New()
	h.Write([]byte(companyID))
	h.Write([]byte{0})
	h.Write(raw)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Ingest validates and records a delivery, then schedules processing. Only
// malformed payloads produce an error; storage failures are logged and the
// delivery is still acknowledged.
func (p *Processor) Ingest(ctx context.Context, companyID string, raw []byte) (IngestResult, error) {
	env, _, err := Parse(raw)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("invalid", "rejected").Inc()
		return IngestResult{}, err
	}

	result := IngestResult{EventID: EventID(companyID, env, raw), Type: env.Type}
	inserted, err := p.events.SaveWebhookEvent(ctx, &domain.WebhookEvent{
		EventID:    result.EventID,
		CompanyID:  companyID,
		Type:       env.Type,
		Payload:    append([]byte(nil), raw...),
		ReceivedAt: p.now(),
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(env.Type, "store_error").Inc()
		p.logger.ErrorContext(ctx, "failed to record webhook event",
			"event_id", result.EventID, "type", env.Type, "company_id", companyID, "error", err)
		return result, nil
	}
	if !inserted {
		result.Duplicate = true
		metrics.WebhookEvents.WithLabelValues(env.Type, "duplicate").Inc()
		p.logger.InfoContext(ctx, "duplicate webhook ignored", "event_id", result.EventID, "type", env.Type)
		return result, nil
	}

	metrics.WebhookEvents.WithLabelValues(env.Type, "accepted").Inc()
	p.dispatch(ctx, result.EventID)
	return result, nil
}

func (p *Processor) dispatch(ctx context.Context, eventID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.ProcessTimeout)
		defer cancel()
		_ = p.Process(ctx, eventID)
	}()
}

// Wait blocks until dispatched events have been processed.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Process applies a recorded event. Concurrent calls for the same event are
// serialized and an event already marked processed is skipped.
func (p *Processor) Process(ctx context.Context, eventID string) error {
	unlock, err := p.locker.Lock(ctx, "webhook:"+eventID)
	if err != nil {
		return fmt.Errorf("lock webhook %s: %w", eventID, err)
	}
	defer unlock()

	ev, err := p.events.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Processed() {
		return nil
	}

	outcome := "processed"
	err = p.apply(ctx, ev)
	switch {
	case errors.Is(err, domain.ErrTenantMismatch):
		// Nothing was changed. The event is settled so it is not retried.
		outcome = "foreign"
		p.logger.WarnContext(ctx, "webhook refers to another company's resource",
			"event_id", eventID, "type", ev.Type, "company_id", ev.CompanyID)
	case err != nil:
		metrics.WebhookEvents.WithLabelValues(ev.Type, "failed").Inc()
		p.logger.WarnContext(ctx, "webhook processing failed",
			"event_id", eventID, "type", ev.Type, "attempt", ev.Attempts+1, "error", err)
		if merr := p.events.MarkWebhookFailed(ctx, eventID, err.Error()); merr != nil {
			p.logger.ErrorContext(ctx, "failed to record webhook failure", "event_id", eventID, "error", merr)
		}
		return err
	}

	if err := p.events.MarkWebhookProcessed(ctx, eventID, p.now()); err != nil {
		return fmt.Errorf("mark webhook %s processed: %w", eventID, err)
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type, outcome).Inc()
	return nil
}

func (p *Processor) apply(ctx context.Context, ev *domain.WebhookEvent) error {
	_, event, err := Parse(ev.Payload)
	if err != nil {
		return err
	}

	switch e := event.(type) {
	case TransactionEvent:
		_, err = p.resources.UpsertPayment(ctx, domain.PaymentTransaction{
			ID:            e.ID,
			CompanyID:     ev.CompanyID,
			LedgerID:      e.LedgerID,
			BeneficiaryID: e.BeneficiaryID,
			Amount:        e.Amount,
			Currency:      e.Currency,
			Reference:     e.Reference,
			Status:        e.Status(),
			FailureReason: e.FailureReason,
		})
	case AccountCreatedEvent:
		_, err = p.resources.UpsertLedger(ctx, domain.Ledger{
			ID:            e.ID,
			CompanyID:     ev.CompanyID,
			IdentityID:    e.IdentityID,
			Currency:      e.Currency,
			AccountNumber: e.AccountNumber,
			Status:        e.Status,
		})
	case CardCreatedEvent:
		_, err = p.resources.UpsertCard(ctx, domain.Card{
			ID:        e.ID,
			CompanyID: ev.CompanyID,
			LedgerID:  e.LedgerID,
			CardType:  e.CardType,
			LastFour:  e.LastFour,
			Expiry:    e.Expiry,
			Status:    e.Status,
		})
	case IdentityStatusEvent:
		err = p.statuses.ApplyProviderStatus(ctx, ev.CompanyID, e.ID, e.Status, e.Reason)
	case UnknownEvent:
		p.logger.InfoContext(ctx, "unhandled webhook type", "event_id", ev.EventID, "type", e.Type)
	}
	return err
}

// RetryPending re-processes events received before the grace window that
// have not completed. It returns how many were applied.
func (p *Processor) RetryPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := p.events.ListPendingWebhookEvents(ctx, p.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("list pending webhooks: %w", err)
	}

	applied := 0
	for _, ev := range pending {
		if ctx.Err() != nil {
			break
		}
		if p.MaxAttempts > 0 && ev.Attempts >= p.MaxAttempts {
			continue
		}
		if err := p.Process(ctx, ev.EventID); err == nil {
			applied++
		}
	}
	return applied, nil
}
