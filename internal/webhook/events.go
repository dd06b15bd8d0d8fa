// Package webhook ingests provider push notifications. Deliveries are
// deduplicated by event id, acknowledged immediately and applied in the
// background.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrMalformed marks a delivery whose shape is invalid.
var ErrMalformed = errors.New("malformed webhook payload")

// Envelope is the outer shape of every provider delivery.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event is one decoded delivery variant.
type Event interface {
	EventType() string
}

// TransactionEvent covers transaction.created, .completed and .failed.
type TransactionEvent struct {
	Type          string          `json:"-"`
	ID            string          `json:"id"`
	LedgerID      string          `json:"ledgerId"`
	BeneficiaryID string          `json:"beneficiaryId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
	FailureReason string          `json:"failureReason"`
}

func (e TransactionEvent) EventType() string { return e.Type }

// Status derives the payment status from the event type.
func (e TransactionEvent) Status() domain.PaymentStatus {
	switch e.Type {
	case domain.EventTransactionCompleted:
		return domain.PaymentCompleted
	case domain.EventTransactionFailed:
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}

type AccountCreatedEvent struct {
	ID            string `json:"id"`
	IdentityID    string `json:"enduserId"`
	Currency      string `json:"currency"`
	AccountNumber string `json:"accountNumber"`
	Status        string `json:"status"`
}

func (AccountCreatedEvent) EventType() string { return domain.EventAccountCreated }

type CardCreatedEvent struct {
	ID       string `json:"id"`
	LedgerID string `json:"ledgerId"`
	CardType string `json:"cardType"`
	LastFour string `json:"lastFour"`
	Expiry   string `json:"expiry"`
	Status   string `json:"status"`
}

func (CardCreatedEvent) EventType() string { return domain.EventCardCreated }

type IdentityStatusEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"statusReason"`
}

func (IdentityStatusEvent) EventType() string { return domain.EventIdentityUpdated }

// UnknownEvent is any type outside the subscribed set. It is acknowledged
// and recorded but has no side effects.
type UnknownEvent struct {
	Type string
}

func (e UnknownEvent) EventType() string { return e.Type }

// Parse validates a raw delivery and decodes its variant.
func Parse(raw []byte) (Envelope, Event, error) {
	var env Envelope
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env, nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformed)
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return env, nil, fmt.Errorf("%w: data must be an object", ErrMalformed)
	}

	var (
		event Event
		id    string
		err   error
	)
	switch env.Type {
	case domain.EventTransactionCreated, domain.EventTransactionCompleted, domain.EventTransactionFailed:
		var e TransactionEvent
		err = json.Unmarshal(data, &e)
		e.Type = env.Type
		event, id = e, e.ID
	case domain.EventAccountCreated:
		var e AccountCreatedEvent
		err = json.Unmarshal(data, &e)
		event, id = e, e.ID
	case domain.EventCardCreated:
		var e CardCreatedEvent
		err = json.Unmarshal(data, &e)
		event, id = e, e.ID
	case domain.EventIdentityUpdated:
		var e IdentityStatusEvent
		err = json.Unmarshal(data, &e)
		event, id = e, e.ID
	default:
		return env, UnknownEvent{Type: env.Type}, nil
	}
	if err != nil {
		return env, nil, fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Type, err)
	}
	if id == "" {
		return env, nil, fmt.Errorf("%w: %s data has no id", ErrMalformed, env.Type)
	}
	return env, event, nil
}
