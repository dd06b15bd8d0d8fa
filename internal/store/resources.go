package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/shopspring/decimal"
)

// Upserts below never let an empty incoming column overwrite a stored one,
// mirroring the Merge methods on the domain types. A row's company is set
// once: an observation scoped to another company updates nothing, RETURNING
// yields no row and the upsert reports ErrTenantMismatch.

func ownerGuard(table string) string {
	return " WHERE " + table + ".company_id = '' OR EXCLUDED.company_id = '' OR " +
		table + ".company_id = EXCLUDED.company_id"
}

func upsertErr(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrTenantMismatch
	}
	return fmt.Errorf("%s upsert failed: %w", what, err)
}

const ledgerColumns = "id, company_id, identity_id, currency, account_number, status, created_at, updated_at"

func scanLedger(row pgx.Row) (domain.Ledger, error) {
	var l domain.Ledger
	err := row.Scan(&l.ID, &l.CompanyID, &l.IdentityID, &l.Currency, &l.AccountNumber, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (s *Store) UpsertLedger(ctx context.Context, l domain.Ledger) (domain.Ledger, error) {
	out, err := scanLedger(s.Db.QueryRow(ctx,
		`INSERT INTO ledgers (id, company_id, identity_id, currency, account_number, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     company_id     = COALESCE(NULLIF(ledgers.company_id, ''), EXCLUDED.company_id),
		     identity_id    = COALESCE(NULLIF(EXCLUDED.identity_id, ''), ledgers.identity_id),
		     currency       = COALESCE(NULLIF(EXCLUDED.currency, ''), ledgers.currency),
		     account_number = COALESCE(NULLIF(EXCLUDED.account_number, ''), ledgers.account_number),
		     status         = COALESCE(NULLIF(EXCLUDED.status, ''), ledgers.status),
		     updated_at     = now()`+ownerGuard("ledgers")+`
		 RETURNING `+ledgerColumns,
		l.ID, l.CompanyID, l.IdentityID, l.Currency, l.AccountNumber, l.Status,
	))
	if err != nil {
		return domain.Ledger{}, upsertErr("ledger", err)
	}
	return out, nil
}

func (s *Store) GetLedger(ctx context.Context, id string) (*domain.Ledger, error) {
	l, err := scanLedger(s.Db.QueryRow(ctx, "SELECT "+ledgerColumns+" FROM ledgers WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResourceNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListLedgersByCompany(ctx context.Context, companyID string) ([]domain.Ledger, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+ledgerColumns+" FROM ledgers WHERE company_id = $1 ORDER BY created_at ASC", companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledgers []domain.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

func (s *Store) UpsertCard(ctx context.Context, c domain.Card) (domain.Card, error) {
	var out domain.Card
	err := s.Db.QueryRow(ctx,
		`INSERT INTO cards (id, company_id, ledger_id, card_type, last_four, expiry, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     company_id = COALESCE(NULLIF(cards.company_id, ''), EXCLUDED.company_id),
		     ledger_id  = COALESCE(NULLIF(EXCLUDED.ledger_id, ''), cards.ledger_id),
		     card_type  = COALESCE(NULLIF(EXCLUDED.card_type, ''), cards.card_type),
		     last_four  = COALESCE(NULLIF(EXCLUDED.last_four, ''), cards.last_four),
		     expiry     = COALESCE(NULLIF(EXCLUDED.expiry, ''), cards.expiry),
		     status     = COALESCE(NULLIF(EXCLUDED.status, ''), cards.status),
		     updated_at = now()`+ownerGuard("cards")+`
		 RETURNING id, company_id, ledger_id, card_type, last_four, expiry, status, created_at, updated_at`,
		c.ID, c.CompanyID, c.LedgerID, c.CardType, c.LastFour, c.Expiry, c.Status,
	).Scan(&out.ID, &out.CompanyID, &out.LedgerID, &out.CardType, &out.LastFour, &out.Expiry, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return domain.Card{}, upsertErr("card", err)
	}
	return out, nil
}

const beneficiaryColumns = "id, company_id, identity_id, name, account_number, routing_number, bank_name, status, created_at, updated_at"

func scanBeneficiary(row pgx.Row) (domain.Beneficiary, error) {
	var b domain.Beneficiary
	err := row.Scan(&b.ID, &b.CompanyID, &b.IdentityID, &b.Name, &b.AccountNumber, &b.RoutingNumber, &b.BankName, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (s *Store) UpsertBeneficiary(ctx context.Context, b domain.Beneficiary) (domain.Beneficiary, error) {
	out, err := scanBeneficiary(s.Db.QueryRow(ctx,
		`INSERT INTO beneficiaries (id, company_id, identity_id, name, account_number, routing_number, bank_name, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		     company_id     = COALESCE(NULLIF(beneficiaries.company_id, ''), EXCLUDED.company_id),
		     identity_id    = COALESCE(NULLIF(EXCLUDED.identity_id, ''), beneficiaries.identity_id),
		     name           = COALESCE(NULLIF(EXCLUDED.name, ''), beneficiaries.name),
		     account_number = COALESCE(NULLIF(EXCLUDED.account_number, ''), beneficiaries.account_number),
		     routing_number = COALESCE(NULLIF(EXCLUDED.routing_number, ''), beneficiaries.routing_number),
		     bank_name      = COALESCE(NULLIF(EXCLUDED.bank_name, ''), beneficiaries.bank_name),
		     status         = COALESCE(NULLIF(EXCLUDED.status, ''), beneficiaries.status),
		     updated_at     = now()`+ownerGuard("beneficiaries")+`
		 RETURNING `+beneficiaryColumns,
		b.ID, b.CompanyID, b.IdentityID, b.Name, b.AccountNumber, b.RoutingNumber, b.BankName, b.Status,
	))
	if err != nil {
		return domain.Beneficiary{}, upsertErr("beneficiary", err)
	}
	return out, nil
}

func (s *Store) GetBeneficiary(ctx context.Context, id string) (*domain.Beneficiary, error) {
	b, err := scanBeneficiary(s.Db.QueryRow(ctx, "SELECT "+beneficiaryColumns+" FROM beneficiaries WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResourceNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Amounts travel as text so NUMERIC precision survives the round trip.
const paymentColumns = `id, company_id, ledger_id, beneficiary_id, amount::text, currency, reference,
	status, failure_reason, created_at, updated_at`

func scanPayment(row pgx.Row) (domain.PaymentTransaction, error) {
	var (
		p      domain.PaymentTransaction
		amount string
	)
	err := row.Scan(&p.ID, &p.CompanyID, &p.LedgerID, &p.BeneficiaryID, &amount, &p.Currency, &p.Reference,
		&p.Status, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.PaymentTransaction{}, fmt.Errorf("decode amount %q: %w", amount, err)
	}
	return p, nil
}

// UpsertPayment merges a payment observation. Completed and failed rows
// keep their status and failure reason.
func (s *Store) UpsertPayment(ctx context.Context, p domain.PaymentTransaction) (domain.PaymentTransaction, error) {
	status := p.Status
	if status == "" {
		status = domain.PaymentPending
	}
	out, err := scanPayment(s.Db.QueryRow(ctx,
		`INSERT INTO payment_transactions (id, company_id, ledger_id, beneficiary_id, amount, currency, reference, status, failure_reason)
		 VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		     company_id     = COALESCE(NULLIF(payment_transactions.company_id, ''), EXCLUDED.company_id),
		     ledger_id      = COALESCE(NULLIF(EXCLUDED.ledger_id, ''), payment_transactions.ledger_id),
		     beneficiary_id = COALESCE(NULLIF(EXCLUDED.beneficiary_id, ''), payment_transactions.beneficiary_id),
		     amount         = CASE WHEN payment_transactions.amount = 0 THEN EXCLUDED.amount ELSE payment_transactions.amount END,
		     currency       = COALESCE(NULLIF(EXCLUDED.currency, ''), payment_transactions.currency),
		     reference      = COALESCE(NULLIF(EXCLUDED.reference, ''), payment_transactions.reference),
		     failure_reason = CASE WHEN payment_transactions.status IN ('completed', 'failed')
		                           THEN payment_transactions.failure_reason
		                           ELSE COALESCE(NULLIF(EXCLUDED.failure_reason, ''), payment_transactions.failure_reason) END,
		     status         = CASE WHEN payment_transactions.status IN ('completed', 'failed')
		                           THEN payment_transactions.status
		                           ELSE COALESCE(NULLIF($10, ''), payment_transactions.status) END,
		     updated_at     = now()`+ownerGuard("payment_transactions")+`
		 RETURNING `+paymentColumns,
		p.ID, p.CompanyID, p.LedgerID, p.BeneficiaryID, p.Amount.String(), p.Currency, p.Reference,
		string(status), p.FailureReason, string(p.Status),
	))
	if err != nil {
		return domain.PaymentTransaction{}, upsertErr("payment", err)
	}
	return out, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	p, err := scanPayment(s.Db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payment_transactions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResourceNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPendingPayments(ctx context.Context, limit int) ([]domain.PaymentTransaction, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+paymentColumns+" FROM payment_transactions WHERE status = 'pending' ORDER BY created_at ASC LIMIT NULLIF($1, 0)", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.PaymentTransaction
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
