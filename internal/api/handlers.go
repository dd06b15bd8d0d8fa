package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/models"
)

func (h *Handler) StartApplicationHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/applications")

	var req models.StartApplicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		e.reject(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.TenantID == "" || req.BusinessInfo.LegalName == "" {
		e.reject(w, http.StatusUnprocessableEntity, "tenant_id and business_info.legal_name are required")
		return
	}

	app, err := h.orchestrator.StartApplication(r.Context(), req.TenantID, req.BusinessInfo)
	if err != nil {
		h.fail(w, r, e, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/applications/%s", app.ID))
	e.json(w, http.StatusCreated, models.NewApplicationResponse(app))
}

func (h *Handler) GetApplicationHandler(w http.ResponseWriter, r *http.Request) {
	e := track("GET", "/applications/{id}")

	app, err := h.orchestrator.GetApplication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	e.json(w, http.StatusOK, models.NewApplicationResponse(app))
}

func (h *Handler) ListApplicationsHandler(w http.ResponseWriter, r *http.Request) {
	e := track("GET", "/tenants/{tenantId}/applications")

	apps, err := h.orchestrator.ListApplications(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		h.fail(w, r, e, err)
		return
	}

	out := make([]models.ApplicationResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, models.NewApplicationResponse(app))
	}
	e.json(w, http.StatusOK, out)
}

// UploadDocumentHandler answers 202: a completing upload hands the
// application to the provider in the background.
func (h *Handler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/applications/{id}/documents")

	var req models.UploadDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		e.reject(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	app, err := h.orchestrator.UploadDocument(r.Context(), mux.Vars(r)["id"], req.Kind, req.Reference)
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	e.json(w, http.StatusAccepted, models.NewApplicationResponse(app))
}

func (h *Handler) RefreshApplicationHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/applications/{id}/refresh")

	app, err := h.orchestrator.CheckStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	if app.ProviderApplicationID == "" && app.Status == domain.StatusSubmitted {
		w.Header().Set("Retry-After", "60")
	}
	e.json(w, http.StatusOK, models.NewApplicationResponse(app))
}
