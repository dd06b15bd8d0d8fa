package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/metrics"
	"github.com/punchamoorthee/freightbank/internal/service"
	"github.com/punchamoorthee/freightbank/internal/webhook"
)

// maxBodyBytes caps request bodies, webhook deliveries included.
const maxBodyBytes = 1 << 20

type Handler struct {
	orchestrator   *service.Orchestrator
	banking        *service.Banking
	webhooks       *webhook.Processor
	webhookBaseURL string
	logger         *slog.Logger
}

func NewHandler(o *service.Orchestrator, b *service.Banking, wp *webhook.Processor, webhookBaseURL string, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator:   o,
		banking:        b,
		webhooks:       wp,
		webhookBaseURL: webhookBaseURL,
		logger:         logger,
	}
}

// Router wires every route onto a gorilla/mux router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/webhooks/{companyId}", h.WebhookHandler).Methods("POST")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/applications", h.StartApplicationHandler).Methods("POST")
	apiV1.HandleFunc("/applications/{id}", h.GetApplicationHandler).Methods("GET")
	apiV1.HandleFunc("/applications/{id}/documents", h.UploadDocumentHandler).Methods("POST")
	apiV1.HandleFunc("/applications/{id}/refresh", h.RefreshApplicationHandler).Methods("POST")
	apiV1.HandleFunc("/tenants/{tenantId}/applications", h.ListApplicationsHandler).Methods("GET")

	apiV1.HandleFunc("/companies/{companyId}/ledgers", h.OpenLedgerHandler).Methods("POST")
	apiV1.HandleFunc("/companies/{companyId}/beneficiaries", h.AddBeneficiaryHandler).Methods("POST")
	apiV1.HandleFunc("/companies/{companyId}/webhooks", h.RegisterWebhooksHandler).Methods("POST")
	apiV1.HandleFunc("/ledgers/{ledgerId}/cards", h.IssueCardHandler).Methods("POST")
	apiV1.HandleFunc("/ledgers/{ledgerId}/payments", h.CreatePaymentHandler).Methods("POST")
	apiV1.HandleFunc("/ledgers/{ledgerId}/balance", h.GetBalanceHandler).Methods("GET")
	apiV1.HandleFunc("/ledgers/{ledgerId}/transactions", h.ListTransactionsHandler).Methods("GET")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// endpoint tracks one request's metrics under its route template.
type endpoint struct {
	method, path string
	timer        *prometheus.Timer
}

func track(method, path string) *endpoint {
	return &endpoint{
		method: method,
		path:   path,
		timer:  prometheus.NewTimer(metrics.HTTPRequestDuration.WithLabelValues(method, path)),
	}
}

func (e *endpoint) done(code int) {
	metrics.HTTPRequestsTotal.WithLabelValues(e.method, e.path, strconv.Itoa(code)).Inc()
	e.timer.ObserveDuration()
}

func (e *endpoint) json(w http.ResponseWriter, code int, payload interface{}) {
	e.done(code)
	respondWithJSON(w, code, payload)
}

func (e *endpoint) reject(w http.ResponseWriter, code int, message string) {
	e.done(code)
	respondWithError(w, code, message)
}

// fail maps a service error onto an HTTP status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, e *endpoint, err error) {
	code, message := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", e.method, "endpoint", e.path, "status", code, "error", err)
	}
	e.reject(w, code, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrApplicationNotFound):
		return http.StatusNotFound, "Application not found"
	case errors.Is(err, domain.ErrCompanyNotFound):
		return http.StatusNotFound, "Company not found"
	case errors.Is(err, domain.ErrResourceNotFound), errors.Is(err, domain.ErrTenantMismatch):
		return http.StatusNotFound, "Resource not found"
	case errors.Is(err, domain.ErrApplicationExists):
		return http.StatusConflict, "Tenant already has a live banking application"
	case errors.Is(err, domain.ErrNotApproved):
		return http.StatusConflict, "Company banking is not approved"
	case errors.Is(err, domain.ErrUnknownDocumentKind),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, domain.ProviderMessage(err)
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict, domain.ProviderMessage(err)
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Resource not found at banking provider"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "Banking provider unavailable"
	case errors.Is(err, domain.ErrAuth):
		return http.StatusBadGateway, "Banking provider authentication failed"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
