package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/models"
	"github.com/punchamoorthee/freightbank/internal/service"
)

func (h *Handler) OpenLedgerHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/companies/{companyId}/ledgers")

	var req models.OpenLedgerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		e.reject(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	ledger, err := h.banking.OpenLedger(r.Context(), mux.Vars(r)["companyId"], req.Currency)
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	e.json(w, http.StatusCreated, ledger)
}

func (h *Handler) IssueCardHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/ledgers/{ledgerId}/cards")

	var req models.IssueCardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		e.reject(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.CardType == "" {
		req.CardType = "virtual"
	}

	card, err := h.banking.IssueCard(r.Context(), mux.Vars(r)["ledgerId"], req.CardType)
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	e.json(w, http.StatusCreated, card)
}

func (h *Handler) AddBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/companies/{companyId}/beneficiaries")

	var req domain.BeneficiaryInfo
	if err := decodeJSON(w, r, &req); err != nil {
		e.reject(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Name == "" || req.AccountNumber == "" || req.RoutingNumber == "" {
		e.reject(w, http.StatusUnprocessableEntity, "name, account_number and routing_number are required")
		return
	}

	b, err := h.banking.AddBeneficiary(r.Context(), mux.Vars(r)["companyId"], req)
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	e.json(w, http.StatusCreated, b)
}

func (h *Handler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/ledgers/{ledgerId}/payments")

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		e.reject(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	var req models.PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		e.reject(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if !req.Amount.IsPositive() {
		e.reject(w, http.StatusUnprocessableEntity, "Positive amount required")
		return
	}
	if req.BeneficiaryID == "" {
		e.reject(w, http.StatusUnprocessableEntity, "beneficiary_id is required")
		return
	}

	payment, err := h.banking.PayBeneficiary(r.Context(), service.PaymentRequest{
		LedgerID:       mux.Vars(r)["ledgerId"],
		BeneficiaryID:  req.BeneficiaryID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Reference:      req.Reference,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		h.fail(w, r, e, err)
		return
	}

	e.json(w, http.StatusCreated, payment)
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	e := track("GET", "/ledgers/{ledgerId}/balance")

	balance, err := h.banking.GetBalance(r.Context(), mux.Vars(r)["ledgerId"])
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	e.json(w, http.StatusOK, balance)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	e := track("GET", "/ledgers/{ledgerId}/transactions")

	q, err := parseTransactionsQuery(r)
	if err != nil {
		e.reject(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := h.banking.ListTransactions(r.Context(), mux.Vars(r)["ledgerId"], domain.TransactionFilter{
		From:   q.From,
		To:     q.To,
		Status: domain.PaymentStatus(q.Status),
		Limit:  q.Limit,
	})
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	e.json(w, http.StatusOK, txs)
}

func parseTransactionsQuery(r *http.Request) (models.TransactionsQuery, error) {
	var q models.TransactionsQuery
	values := r.URL.Query()

	if v := values.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("invalid from: %w", err)
		}
		q.From = t
	}
	if v := values.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("invalid to: %w", err)
		}
		q.To = t
	}
	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("invalid limit %q", v)
		}
		q.Limit = n
	}
	q.Status = values.Get("status")
	return q, nil
}

func (h *Handler) RegisterWebhooksHandler(w http.ResponseWriter, r *http.Request) {
	e := track("POST", "/companies/{companyId}/webhooks")

	reg, err := h.banking.RegisterWebhooks(r.Context(), mux.Vars(r)["companyId"], h.webhookBaseURL)
	if err != nil {
		h.fail(w, r, e, err)
		return
	}
	e.json(w, http.StatusCreated, reg)
}
