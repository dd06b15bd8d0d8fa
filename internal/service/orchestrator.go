package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/lock"
	"github.com/punchamoorthee/freightbank/internal/metrics"
	"github.com/punchamoorthee/freightbank/internal/notify"
)

const (
	sourceUpload  = "upload"
	sourceSubmit  = "submit"
	sourcePoll    = "poll"
	sourceWebhook = "webhook"

	notificationCategory = "banking"
)

// IdentityProvider is the slice of the provider gateway the orchestrator needs.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, info domain.BusinessInfo, idempotencyKey string) (string, error)
	GetIdentityStatus(ctx context.Context, identityID string) (status, reason string, err error)
}

// Orchestrator drives a banking application from intake to a provider decision.
type Orchestrator struct {
	apps      domain.ApplicationRepository
	companies domain.CompanyDirectory
	provider  IdentityProvider
	locker    lock.Locker
	notifier  notify.Notifier
	logger    *slog.Logger

	// SubmitTimeout bounds an asynchronous submission triggered by an upload.
	SubmitTimeout time.Duration

	now   func() time.Time
	newID func() string
	wg    sync.WaitGroup
}

func NewOrchestrator(
	apps domain.ApplicationRepository,
	companies domain.CompanyDirectory,
	provider IdentityProvider,
	locker lock.Locker,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		apps:          apps,
		companies:     companies,
		provider:      provider,
		locker:        locker,
		notifier:      notifier,
		logger:        logger,
		SubmitTimeout: 2 * time.Minute,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

func applicationKey(id string) string {
	return "application:" + id
}

// StartApplication opens a Draft application for an existing tenant.
func (o *Orchestrator) StartApplication(ctx context.Context, tenantID string, info domain.BusinessInfo) (*domain.BankingApplication, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrInvalidInput)
	}
	if _, err := o.companies.GetCompany(ctx, tenantID); err != nil {
		return nil, err
	}

	app := domain.NewBankingApplication(o.newID(), tenantID, info, o.now())
	if err := o.apps.CreateApplication(ctx, app); err != nil {
		return nil, err
	}

	o.syncCompany(ctx, tenantID, domain.CompanyPatch{BankingStatus: statusPtr(app.Status)})
	o.logger.InfoContext(ctx, "banking application started",
		"application_id", app.ID,
		"tenant_id", tenantID,
		"business_type", app.BusinessType,
	)
	return app, nil
}

// UploadDocument records a document against the application. When the upload
// completes the required set of a Draft or RequiresAdditionalDocuments
// application, the same write moves it to Submitted and submission is
// dispatched in the background.
func (o *Orchestrator) UploadDocument(ctx context.Context, applicationID, kind, reference string) (*domain.BankingApplication, error) {
	docKind, err := domain.ParseDocumentKind(kind)
	if err != nil {
		return nil, err
	}
	if reference == "" {
		reference = string(docKind)
	}

	var (
		from      domain.ApplicationStatus
		submitted bool
	)
	app, err := o.apps.UpdateApplication(ctx, applicationID, func(a *domain.BankingApplication) error {
		from = a.Status
		submitted = false
		changed := a.RecordDocument(docKind, reference)
		if (a.Status == domain.StatusDraft || a.Status == domain.StatusRequiresAdditionalDocuments) && a.DocumentsComplete() {
			if err := a.Transition(domain.StatusSubmitted, "", o.now()); err != nil {
				return err
			}
			submitted = true
			return nil
		}
		if !changed {
			return domain.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "document recorded",
		"application_id", applicationID,
		"kind", docKind,
		"missing", len(app.MissingDocuments()),
	)

	if submitted {
		metrics.ApplicationTransitions.WithLabelValues(string(from), string(domain.StatusSubmitted), sourceUpload).Inc()
		o.syncCompany(ctx, app.TenantID, domain.CompanyPatch{BankingStatus: statusPtr(domain.StatusSubmitted)})
		o.dispatchSubmit(ctx, applicationID)
	}
	return app, nil
}

func (o *Orchestrator) dispatchSubmit(ctx context.Context, applicationID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.SubmitTimeout)
		defer cancel()
		if _, err := o.SubmitForReview(ctx, applicationID); err != nil {
			o.logger.WarnContext(ctx, "background submission did not complete",
				"application_id", applicationID, "error", err)
		}
	}()
}

// Wait blocks until background submissions have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// SubmitForReview creates the provider identity for a Submitted application.
// Only an unavailable provider leaves it Submitted for the poller to retry.
// Any other provider refusal moves it to RequiresAdditionalDocuments with
// the provider's message as the reason.
func (o *Orchestrator) SubmitForReview(ctx context.Context, applicationID string) (*domain.BankingApplication, error) {
	unlock, err := o.locker.Lock(ctx, applicationKey(applicationID))
	if err != nil {
		return nil, fmt.Errorf("lock application %s: %w", applicationID, err)
	}
	defer unlock()

	app, err := o.apps.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != domain.StatusSubmitted {
		o.logger.DebugContext(ctx, "submission skipped", "application_id", applicationID, "status", app.Status)
		return app, nil
	}

	// Resubmission after additional documents: the provider already holds
	// the identity and resumes its review.
	if app.ProviderApplicationID != "" {
		updated, _, err := o.applyStatus(ctx, app.ID, domain.StatusUnderReview, "", sourceSubmit)
		return updated, err
	}

	identityID, err := o.provider.CreateIdentity(ctx, app.BusinessInfo, app.ID)
	if err != nil {
		var pe *domain.ProviderError
		switch {
		case errors.Is(err, domain.ErrProviderUnavailable):
			o.logger.WarnContext(ctx, "provider unavailable, submission left for retry",
				"application_id", app.ID, "error", err)
			return app, err
		case errors.As(err, &pe):
			// Rejections are final for this submission. The tenant resubmits
			// by uploading documents again.
			reason := domain.ProviderMessage(err)
			if errors.Is(err, domain.ErrValidation) {
				o.logger.InfoContext(ctx, "provider rejected submission",
					"application_id", app.ID, "reason", reason)
			} else {
				o.logger.ErrorContext(ctx, "provider refused submission",
					"application_id", app.ID, "status_code", pe.StatusCode, "error", err)
			}
			updated, _, terr := o.applyStatus(ctx, app.ID, domain.StatusRequiresAdditionalDocuments, reason, sourceSubmit)
			return updated, terr
		default:
			o.logger.ErrorContext(ctx, "submission failed",
				"application_id", app.ID, "error", err)
			return app, err
		}
	}

	updated, err := o.apps.UpdateApplication(ctx, app.ID, func(a *domain.BankingApplication) error {
		if err := a.AssignProviderApplicationID(identityID); err != nil {
			return err
		}
		return a.Transition(domain.StatusUnderReview, "", o.now())
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to record provider identity",
			"application_id", app.ID, "identity_id", identityID, "error", err)
		return app, err
	}

	metrics.ApplicationTransitions.WithLabelValues(string(domain.StatusSubmitted), string(domain.StatusUnderReview), sourceSubmit).Inc()
	o.syncCompany(ctx, updated.TenantID, domain.CompanyPatch{
		ProviderIdentityID: &identityID,
		BankingStatus:      statusPtr(domain.StatusUnderReview),
	})
	o.notify(ctx, updated.TenantID, "Banking application submitted",
		"Your banking application has been submitted to our banking partner for review.")
	o.logger.InfoContext(ctx, "application submitted",
		"application_id", updated.ID, "identity_id", identityID)
	return updated, nil
}

// CheckStatus pulls the provider's review status and applies it.
func (o *Orchestrator) CheckStatus(ctx context.Context, applicationID string) (*domain.BankingApplication, error) {
	unlock, err := o.locker.Lock(ctx, applicationKey(applicationID))
	if err != nil {
		return nil, fmt.Errorf("lock application %s: %w", applicationID, err)
	}
	defer unlock()

	app, err := o.apps.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.ProviderApplicationID == "" {
		return app, nil
	}

	providerStatus, reason, err := o.provider.GetIdentityStatus(ctx, app.ProviderApplicationID)
	if err != nil {
		return app, fmt.Errorf("check status of %s: %w", applicationID, err)
	}

	updated, _, err := o.applyStatus(ctx, app.ID, domain.MapProviderStatus(providerStatus), reason, sourcePoll)
	return updated, err
}

// ApplyProviderStatus applies a pushed identity status update addressed to
// companyID. An identity owned by another tenant is refused with
// ErrTenantMismatch and nothing changes.
func (o *Orchestrator) ApplyProviderStatus(ctx context.Context, companyID, identityID, providerStatus, reason string) error {
	app, err := o.apps.FindApplicationByProviderID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("identity %s: %w", identityID, err)
	}
	if app.TenantID != companyID {
		o.logger.WarnContext(ctx, "identity status addressed to another company",
			"application_id", app.ID, "tenant_id", app.TenantID, "company_id", companyID)
		return fmt.Errorf("identity %s: %w", identityID, domain.ErrTenantMismatch)
	}

	unlock, err := o.locker.Lock(ctx, applicationKey(app.ID))
	if err != nil {
		return fmt.Errorf("lock application %s: %w", app.ID, err)
	}
	defer unlock()

	_, _, err = o.applyStatus(ctx, app.ID, domain.MapProviderStatus(providerStatus), reason, sourceWebhook)
	return err
}

// Reconcile is the poller's entry point for one application.
func (o *Orchestrator) Reconcile(ctx context.Context, applicationID string) error {
	app, err := o.apps.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	switch app.Status {
	case domain.StatusSubmitted:
		_, err = o.SubmitForReview(ctx, applicationID)
	case domain.StatusUnderReview:
		_, err = o.CheckStatus(ctx, applicationID)
	}
	return err
}

func (o *Orchestrator) GetApplication(ctx context.Context, id string) (*domain.BankingApplication, error) {
	return o.apps.GetApplication(ctx, id)
}

func (o *Orchestrator) ListApplications(ctx context.Context, tenantID string) ([]*domain.BankingApplication, error) {
	return o.apps.ListApplicationsByTenant(ctx, tenantID)
}

// applyStatus moves an application to next. Edges the state machine does not
// allow are logged and ignored, which keeps Approved and Rejected sticky
// against late or reordered updates. It reports whether anything changed.
func (o *Orchestrator) applyStatus(ctx context.Context, applicationID string, next domain.ApplicationStatus, reason, source string) (*domain.BankingApplication, bool, error) {
	var (
		from    domain.ApplicationStatus
		changed bool
	)
	updated, err := o.apps.UpdateApplication(ctx, applicationID, func(a *domain.BankingApplication) error {
		from = a.Status
		changed = false
		if a.Status == next {
			return domain.ErrNoChange
		}
		// A Submitted application that already has an identity is under
		// review upstream, so a decision first passes through UnderReview.
		if a.Status == domain.StatusSubmitted && a.ProviderApplicationID != "" &&
			next != domain.StatusUnderReview && domain.CanTransition(domain.StatusUnderReview, next) {
			if err := a.Transition(domain.StatusUnderReview, "", o.now()); err != nil {
				return err
			}
		}
		if err := a.Transition(next, reason, o.now()); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			metrics.IgnoredTransitions.WithLabelValues(string(from), string(next), source).Inc()
			o.logger.WarnContext(ctx, "ignored status update",
				"application_id", applicationID, "from", from, "to", next, "source", source)
			current, gerr := o.apps.GetApplication(ctx, applicationID)
			return current, false, gerr
		}
		return nil, false, err
	}
	if !changed {
		return updated, false, nil
	}

	metrics.ApplicationTransitions.WithLabelValues(string(from), string(next), source).Inc()
	o.logger.InfoContext(ctx, "application status changed",
		"application_id", applicationID, "from", from, "to", next, "source", source)
	o.syncCompany(ctx, updated.TenantID, domain.CompanyPatch{BankingStatus: statusPtr(next)})
	if title, body, ok := domain.StatusMessage(next, updated.RejectionReason); ok {
		o.notify(ctx, updated.TenantID, title, body)
	}
	return updated, true, nil
}

func (o *Orchestrator) syncCompany(ctx context.Context, tenantID string, patch domain.CompanyPatch) {
	if err := o.companies.UpdateCompany(ctx, tenantID, patch); err != nil {
		o.logger.ErrorContext(ctx, "failed to update company banking fields",
			"tenant_id", tenantID, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, tenantID, title, body string) {
	err := o.notifier.Notify(ctx, domain.Notification{
		TenantID: tenantID,
		Title:    title,
		Body:     body,
		Category: notificationCategory,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "notification not delivered", "tenant_id", tenantID, "error", err)
	}
}

func statusPtr(s domain.ApplicationStatus) *string {
	v := string(s)
	return &v
}
