package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/freightbank/internal/models"
	"github.com/punchamoorthee/freightbank/internal/webhook"
)

// WebhookHandler acknowledges every well-formed delivery with 200, duplicates
// included. Processing happens after the response.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/webhooks/{companyId}")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		e.reject(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	companyID := mux.Vars(r)["companyId"]
	res, err := h.webhooks.Ingest(r.Context(), companyID, body)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformed) {
			h.logger.WarnContext(r.Context(), "malformed webhook", "company_id", companyID, "error", err)
			e.reject(w, http.StatusBadRequest, err.Error())
			return
		}
		h.fail(w, r, e, err)
		return
	}

	h.logger.DebugContext(r.Context(), "webhook acknowledged",
		"company_id", companyID, "event_id", res.EventID, "type", res.Type, "duplicate", res.Duplicate)
	e.json(w, http.StatusOK, models.WebhookAck{Received: true})
}
