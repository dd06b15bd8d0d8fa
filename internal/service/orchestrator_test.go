package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/lock"
	"github.com/punchamoorthee/freightbank/internal/logging"
	"github.com/punchamoorthee/freightbank/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadAll(t *testing.T, o *Orchestrator, appID string, kinds ...domain.DocumentKind) *domain.BankingApplication {
	t.Helper()
	var app *domain.BankingApplication
	for _, kind := range kinds {
		var err error
		app, err = o.UploadDocument(context.Background(), appID, string(kind), "s3://docs/"+string(kind))
		require.NoError(t, err)
	}
	return app
}

func TestOrchestrator_ShipperToApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app, err := f.orchestrator.StartApplication(ctx, "c1", shipperInfo)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, app.Status)
	assert.Equal(t, domain.BusinessTypeShipper, app.BusinessType)
	assert.Len(t, app.MissingDocuments(), 3)
	assert.Equal(t, string(domain.StatusDraft), f.company(t, "c1").BankingStatus)

	app = uploadAll(t, f.orchestrator, app.ID, domain.DocArticlesOfIncorporation, domain.DocBankStatements)
	assert.Equal(t, domain.StatusDraft, app.Status)
	assert.Equal(t, []domain.DocumentKind{domain.DocDriversLicense}, app.MissingDocuments())

	app = uploadAll(t, f.orchestrator, app.ID, domain.DocDriversLicense)
	assert.Equal(t, domain.StatusSubmitted, app.Status)

	f.orchestrator.Wait()

	app, err = f.orchestrator.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, app.Status)
	assert.Equal(t, "eu_1", app.ProviderApplicationID)
	assert.Equal(t, []string{app.ID}, f.provider.createKeys)

	company := f.company(t, "c1")
	assert.Equal(t, "eu_1", company.ProviderIdentityID)
	assert.Equal(t, string(domain.StatusUnderReview), company.BankingStatus)
	assert.Equal(t, []string{"Banking application submitted"}, f.notifier.titles())

	f.provider.setStatus("approved", "")
	app, err = f.orchestrator.CheckStatus(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, app.Status)
	assert.Equal(t, string(domain.StatusApproved), f.company(t, "c1").BankingStatus)
	assert.Equal(t, []string{"Banking application submitted", "Banking application approved"}, f.notifier.titles())

	// A late "pending" must not pull an approved application back.
	f.provider.setStatus("pending", "")
	app, err = f.orchestrator.CheckStatus(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, app.Status)
	assert.Len(t, f.notifier.titles(), 2)
}

func TestOrchestrator_CarrierNeedsAllDocuments(t *testing.T) {
	f := newFixture(t)

	app, err := f.orchestrator.StartApplication(context.Background(), "c2", carrierInfo)
	require.NoError(t, err)
	assert.Equal(t, domain.BusinessTypeCarrier, app.BusinessType)

	app = uploadAll(t, f.orchestrator, app.ID,
		domain.DocArticlesOfIncorporation, domain.DocBankStatements, domain.DocDriversLicense, domain.DocInsurance)
	assert.Equal(t, domain.StatusDraft, app.Status)
	assert.Equal(t, []domain.DocumentKind{domain.DocOperatingAuthority}, app.MissingDocuments())

	app = uploadAll(t, f.orchestrator, app.ID, domain.DocOperatingAuthority)
	assert.Equal(t, domain.StatusSubmitted, app.Status)
	f.orchestrator.Wait()
	assert.Equal(t, 1, f.provider.creates())
}

func TestOrchestrator_StartApplication_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orchestrator.StartApplication(ctx, "", shipperInfo)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.orchestrator.StartApplication(ctx, "unknown", shipperInfo)
	assert.ErrorIs(t, err, domain.ErrCompanyNotFound)

	_, err = f.orchestrator.StartApplication(ctx, "c1", shipperInfo)
	require.NoError(t, err)
	_, err = f.orchestrator.StartApplication(ctx, "c1", shipperInfo)
	assert.ErrorIs(t, err, domain.ErrApplicationExists)
}

func TestOrchestrator_RejectedTenantMayReapply(t *testing.T) {
	f := newFixture(t)
	f.seedApplication(t, "c1", domain.StatusRejected, "eu_old")

	app, err := f.orchestrator.StartApplication(context.Background(), "c1", shipperInfo)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, app.Status)

	apps, err := f.orchestrator.ListApplications(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, apps, 2)
}

func TestOrchestrator_UploadDocument_UnknownKind(t *testing.T) {
	f := newFixture(t)
	app, err := f.orchestrator.StartApplication(context.Background(), "c1", shipperInfo)
	require.NoError(t, err)

	_, err = f.orchestrator.UploadDocument(context.Background(), app.ID, "passport", "ref")
	assert.ErrorIs(t, err, domain.ErrUnknownDocumentKind)

	_, err = f.orchestrator.UploadDocument(context.Background(), "missing", string(domain.DocInsurance), "ref")
	assert.ErrorIs(t, err, domain.ErrApplicationNotFound)
}

func TestOrchestrator_ReuploadIsNoOp(t *testing.T) {
	f := newFixture(t)
	app, err := f.orchestrator.StartApplication(context.Background(), "c1", shipperInfo)
	require.NoError(t, err)

	first := uploadAll(t, f.orchestrator, app.ID, domain.DocBankStatements)
	second := uploadAll(t, f.orchestrator, app.ID, domain.DocBankStatements)
	assert.Equal(t, first.Version, second.Version)
}

func TestOrchestrator_ConcurrentUploadsSubmitOnce(t *testing.T) {
	f := newFixture(t)
	app, err := f.orchestrator.StartApplication(context.Background(), "c1", shipperInfo)
	require.NoError(t, err)

	kinds := []domain.DocumentKind{domain.DocArticlesOfIncorporation, domain.DocBankStatements, domain.DocDriversLicense}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for _, kind := range kinds {
			wg.Add(1)
			go func(kind domain.DocumentKind) {
				defer wg.Done()
				_, err := f.orchestrator.UploadDocument(context.Background(), app.ID, string(kind), "s3://docs/"+string(kind))
				assert.NoError(t, err)
			}(kind)
		}
	}
	wg.Wait()
	f.orchestrator.Wait()

	assert.Equal(t, 1, f.provider.creates())
	got, err := f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, got.Status)
}

func TestOrchestrator_ConcurrentSubmitCreatesOneIdentity(t *testing.T) {
	f := newFixture(t)
	app := f.seedApplication(t, "c1", domain.StatusSubmitted, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orchestrator.SubmitForReview(context.Background(), app.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.provider.creates())
}

func TestOrchestrator_ProviderOutageLeavesSubmitted(t *testing.T) {
	f := newFixture(t)
	f.provider.setCreateErr(&domain.ProviderError{Kind: domain.ErrProviderUnavailable, Op: "create_identity", StatusCode: 503})

	app, err := f.orchestrator.StartApplication(context.Background(), "c1", shipperInfo)
	require.NoError(t, err)
	uploadAll(t, f.orchestrator, app.ID, domain.DocArticlesOfIncorporation, domain.DocBankStatements, domain.DocDriversLicense)
	f.orchestrator.Wait()

	got, err := f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	assert.Empty(t, got.ProviderApplicationID)
	assert.Empty(t, f.notifier.titles())

	// The poller's next pass retries once the provider recovers.
	f.provider.setCreateErr(nil)
	require.NoError(t, f.orchestrator.Reconcile(context.Background(), app.ID))

	got, err = f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, got.Status)
	assert.Equal(t, []string{app.ID, app.ID}, f.provider.createKeys)
}

// staticToken skips signing for gateway-level tests.
type staticToken struct{}

func (staticToken) Token(context.Context) (string, error) { return "test-token", nil }
func (staticToken) Invalidate()                           {}

func TestOrchestrator_GatewayServerErrorsExhaustRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := provider.NewClient(provider.ClientConfig{
		BaseURL:        server.URL,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, staticToken{}, logging.Discard())

	f := newFixture(t)
	o := NewOrchestrator(f.db, f.db, provider.NewGateway(client), lock.NewLocal(), f.notifier, logging.Discard())
	app := f.seedApplication(t, "c1", domain.StatusSubmitted, "")

	_, err := o.SubmitForReview(context.Background(), app.ID)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, int32(3), hits.Load())

	got, err := o.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	assert.Empty(t, got.ProviderApplicationID)
}

func TestOrchestrator_ValidationFailureRequestsDocuments(t *testing.T) {
	f := newFixture(t)
	f.provider.setCreateErr(&domain.ProviderError{Kind: domain.ErrValidation, Op: "create_identity", StatusCode: 400, Message: "EIN does not match legal name"})

	app, err := f.orchestrator.StartApplication(context.Background(), "c1", shipperInfo)
	require.NoError(t, err)
	uploadAll(t, f.orchestrator, app.ID, domain.DocArticlesOfIncorporation, domain.DocBankStatements, domain.DocDriversLicense)
	f.orchestrator.Wait()

	got, err := f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequiresAdditionalDocuments, got.Status)
	assert.Equal(t, "EIN does not match legal name", got.RejectionReason)
	assert.Equal(t, []string{"Additional documents required"}, f.notifier.titles())

	// A corrected document resubmits.
	f.provider.setCreateErr(nil)
	got, err = f.orchestrator.UploadDocument(context.Background(), app.ID, string(domain.DocArticlesOfIncorporation), "s3://docs/articles-v2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	assert.Empty(t, got.RejectionReason)
	f.orchestrator.Wait()

	got, err = f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, got.Status)
	assert.Equal(t, "eu_1", got.ProviderApplicationID)
}

func TestOrchestrator_ProviderRefusalsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  *domain.ProviderError
	}{
		{"not found", &domain.ProviderError{Kind: domain.ErrNotFound, Op: "create_identity", StatusCode: 404, Message: "program not found"}},
		{"auth", &domain.ProviderError{Kind: domain.ErrAuth, Op: "create_identity", StatusCode: 403, Message: "scope identity:manage missing"}},
		{"unresolved duplicate", &domain.ProviderError{Kind: domain.ErrDuplicate, Op: "create_identity", StatusCode: 409, Message: "end user exists"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.setCreateErr(tt.err)
			app := f.seedApplication(t, "c1", domain.StatusSubmitted, "")

			for i := 0; i < 3; i++ {
				require.NoError(t, f.orchestrator.Reconcile(context.Background(), app.ID))
			}

			assert.Equal(t, 1, f.provider.creates())
			got, err := f.orchestrator.GetApplication(context.Background(), app.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusRequiresAdditionalDocuments, got.Status)
			assert.Equal(t, tt.err.Message, got.RejectionReason)
			assert.Empty(t, got.ProviderApplicationID)
		})
	}
}

func TestOrchestrator_ResubmissionWithIdentitySkipsCreate(t *testing.T) {
	f := newFixture(t)
	app := f.seedApplication(t, "c1", domain.StatusUnderReview, "eu_1")

	f.provider.setStatus("documents_required", "upload a voided check")
	got, err := f.orchestrator.CheckStatus(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequiresAdditionalDocuments, got.Status)
	assert.Equal(t, "upload a voided check", got.RejectionReason)

	got, err = f.orchestrator.UploadDocument(context.Background(), app.ID, string(domain.DocBankStatements), "s3://docs/voided-check")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	f.orchestrator.Wait()

	got, err = f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, got.Status)
	assert.Zero(t, f.provider.creates())
}

func TestOrchestrator_CheckStatusWithoutIdentity(t *testing.T) {
	f := newFixture(t)
	app := f.seedApplication(t, "c1", domain.StatusSubmitted, "")

	got, err := f.orchestrator.CheckStatus(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	assert.Zero(t, f.provider.statusCalls)
}

func TestOrchestrator_CheckStatusProviderError(t *testing.T) {
	f := newFixture(t)
	app := f.seedApplication(t, "c1", domain.StatusUnderReview, "eu_1")
	f.provider.statusErr = &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Op: "get_identity"}

	got, err := f.orchestrator.CheckStatus(context.Background(), app.ID)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, domain.StatusUnderReview, got.Status)
}

func TestOrchestrator_ApplyProviderStatus(t *testing.T) {
	f := newFixture(t)
	app := f.seedApplication(t, "c1", domain.StatusUnderReview, "eu_1")

	require.NoError(t, f.orchestrator.ApplyProviderStatus(context.Background(), "c1", "eu_1", "denied", "sanctions screening"))

	got, err := f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	assert.Equal(t, "sanctions screening", got.RejectionReason)
	assert.Equal(t, []string{"Banking application rejected"}, f.notifier.titles())

	// Terminal: a later approval is ignored.
	require.NoError(t, f.orchestrator.ApplyProviderStatus(context.Background(), "c1", "eu_1", "approved", ""))
	got, err = f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	assert.Len(t, f.notifier.titles(), 1)

	err = f.orchestrator.ApplyProviderStatus(context.Background(), "c1", "eu_unknown", "approved", "")
	assert.ErrorIs(t, err, domain.ErrApplicationNotFound)
}

func TestOrchestrator_ApplyProviderStatus_OtherTenantIsRefused(t *testing.T) {
	f := newFixture(t)
	app := f.seedApplication(t, "c1", domain.StatusUnderReview, "eu_1")

	err := f.orchestrator.ApplyProviderStatus(context.Background(), "c2", "eu_1", "approved", "")
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	got, err := f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, got.Status)
	assert.Equal(t, app.Version, got.Version)
	assert.Empty(t, f.notifier.titles())
	assert.Empty(t, f.company(t, "c1").BankingStatus)
}

func TestOrchestrator_DecisionWhileSubmittedPassesThroughReview(t *testing.T) {
	f := newFixture(t)
	app := f.seedApplication(t, "c1", domain.StatusSubmitted, "eu_1")

	require.NoError(t, f.orchestrator.ApplyProviderStatus(context.Background(), "c1", "eu_1", "approved", ""))

	got, err := f.orchestrator.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
}

func TestOrchestrator_SubmitSkipsOtherStatuses(t *testing.T) {
	f := newFixture(t)
	app := f.seedApplication(t, "c1", domain.StatusDraft, "")

	got, err := f.orchestrator.SubmitForReview(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.Zero(t, f.provider.creates())
}
