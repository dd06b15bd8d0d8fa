package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/freightbank/internal/domain"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type Store struct {
	Db DB
}

// NewWithDB wraps an existing connection.
func NewWithDB(db DB) *Store {
	return &Store{Db: db}
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

const applicationColumns = `id, tenant_id, status, business_type, business_info, required_documents,
	submitted_documents, COALESCE(provider_application_id, ''), rejection_reason, version, created_at, updated_at`

func scanApplication(row pgx.Row) (*domain.BankingApplication, error) {
	var (
		app                       domain.BankingApplication
		info, required, submitted []byte
	)
	err := row.Scan(&app.ID, &app.TenantID, &app.Status, &app.BusinessType, &info, &required,
		&submitted, &app.ProviderApplicationID, &app.RejectionReason, &app.Version, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrApplicationNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(info, &app.BusinessInfo); err != nil {
		return nil, fmt.Errorf("decode business_info: %w", err)
	}
	if err := json.Unmarshal(required, &app.RequiredDocuments); err != nil {
		return nil, fmt.Errorf("decode required_documents: %w", err)
	}
	if err := json.Unmarshal(submitted, &app.SubmittedDocuments); err != nil {
		return nil, fmt.Errorf("decode submitted_documents: %w", err)
	}
	return &app, nil
}

func collectApplications(rows pgx.Rows) ([]*domain.BankingApplication, error) {
	defer rows.Close()
	var apps []*domain.BankingApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (s *Store) CreateApplication(ctx context.Context, app *domain.BankingApplication) error {
	info, err := json.Marshal(app.BusinessInfo)
	if err != nil {
		return err
	}
	required, err := json.Marshal(app.RequiredDocuments)
	if err != nil {
		return err
	}
	submitted, err := json.Marshal(app.SubmittedDocuments)
	if err != nil {
		return err
	}

	_, err = s.Db.Exec(ctx,
		`INSERT INTO banking_applications (id, tenant_id, status, business_type, business_info,
			required_documents, submitted_documents, provider_application_id, rejection_reason, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12)`,
		app.ID, app.TenantID, string(app.Status), string(app.BusinessType), info, required, submitted,
		app.ProviderApplicationID, app.RejectionReason, app.Version, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrApplicationExists
		}
		return fmt.Errorf("application insert failed: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (*domain.BankingApplication, error) {
	return scanApplication(s.Db.QueryRow(ctx,
		"SELECT "+applicationColumns+" FROM banking_applications WHERE id = $1", id))
}

func (s *Store) FindApplicationByProviderID(ctx context.Context, providerApplicationID string) (*domain.BankingApplication, error) {
	return scanApplication(s.Db.QueryRow(ctx,
		"SELECT "+applicationColumns+" FROM banking_applications WHERE provider_application_id = $1", providerApplicationID))
}

func (s *Store) ListApplicationsByTenant(ctx context.Context, tenantID string) ([]*domain.BankingApplication, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+applicationColumns+" FROM banking_applications WHERE tenant_id = $1 ORDER BY created_at DESC", tenantID)
	if err != nil {
		return nil, err
	}
	return collectApplications(rows)
}

func (s *Store) ListApplicationsByStatus(ctx context.Context, statuses []domain.ApplicationStatus, limit int) ([]*domain.BankingApplication, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.Db.Query(ctx,
		"SELECT "+applicationColumns+" FROM banking_applications WHERE status = ANY($1) ORDER BY updated_at ASC LIMIT $2",
		names, limit)
	if err != nil {
		return nil, err
	}
	return collectApplications(rows)
}

// UpdateApplication locks the row, applies fn and writes status, documents
// and provider id back in the same transaction.
func (s *Store) UpdateApplication(ctx context.Context, id string, fn func(*domain.BankingApplication) error) (*domain.BankingApplication, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := scanApplication(tx.QueryRow(ctx,
		"SELECT "+applicationColumns+" FROM banking_applications WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, err
	}

	if err := fn(app); err != nil {
		if errors.Is(err, domain.ErrNoChange) {
			return app, nil
		}
		return nil, err
	}

	submitted, err := json.Marshal(app.SubmittedDocuments)
	if err != nil {
		return nil, err
	}
	prevVersion := app.Version
	app.Version++
	app.UpdatedAt = time.Now().UTC()

	tag, err := tx.Exec(ctx,
		`UPDATE banking_applications
		 SET status = $1, submitted_documents = $2, provider_application_id = NULLIF($3, ''),
		     rejection_reason = $4, version = $5, updated_at = $6
		 WHERE id = $7 AND version = $8`,
		string(app.Status), submitted, app.ProviderApplicationID, app.RejectionReason,
		app.Version, app.UpdatedAt, id, prevVersion,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrProviderIDAssigned
		}
		return nil, fmt.Errorf("application update failed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("application update failed: version conflict on %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return app, nil
}

// GetCompany reads a tenant from the directory table.
func (s *Store) GetCompany(ctx context.Context, id string) (*domain.Company, error) {
	var c domain.Company
	err := s.Db.QueryRow(ctx,
		"SELECT id, name, provider_identity_id, banking_status, webhook_id, created_at FROM companies WHERE id = $1", id,
	).Scan(&c.ID, &c.Name, &c.ProviderIdentityID, &c.BankingStatus, &c.WebhookID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCompanyNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCompany(ctx context.Context, id string, patch domain.CompanyPatch) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE companies
		 SET provider_identity_id = COALESCE($2, provider_identity_id),
		     banking_status = COALESCE($3, banking_status),
		     webhook_id = COALESCE($4, webhook_id)
		 WHERE id = $1`,
		id, patch.ProviderIdentityID, patch.BankingStatus, patch.WebhookID,
	)
	if err != nil {
		return fmt.Errorf("company update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCompanyNotFound
	}
	return nil
}

func (s *Store) SaveWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		`INSERT INTO webhook_events (event_id, company_id, event_type, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.CompanyID, ev.Type, []byte(ev.Payload), ev.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("webhook insert failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const webhookColumns = "event_id, company_id, event_type, payload, received_at, processed_at, attempts, last_error"

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var (
		ev      domain.WebhookEvent
		payload []byte
	)
	err := row.Scan(&ev.EventID, &ev.CompanyID, &ev.Type, &payload, &ev.ReceivedAt, &ev.ProcessedAt, &ev.Attempts, &ev.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResourceNotFound
		}
		return nil, err
	}
	ev.Payload = payload
	return &ev, nil
}

func (s *Store) GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	return scanWebhookEvent(s.Db.QueryRow(ctx, "SELECT "+webhookColumns+" FROM webhook_events WHERE event_id = $1", eventID))
}

func (s *Store) MarkWebhookProcessed(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE webhook_events SET processed_at = $2, attempts = attempts + 1, last_error = ''
		 WHERE event_id = $1 AND processed_at IS NULL`,
		eventID, at)
	return err
}

func (s *Store) MarkWebhookFailed(ctx context.Context, eventID string, reason string) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE webhook_events SET attempts = attempts + 1, last_error = $2
		 WHERE event_id = $1 AND processed_at IS NULL`,
		eventID, reason)
	return err
}

func (s *Store) ListPendingWebhookEvents(ctx context.Context, receivedBefore time.Time, limit int) ([]*domain.WebhookEvent, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+webhookColumns+` FROM webhook_events
		 WHERE processed_at IS NULL AND received_at < $1
		 ORDER BY received_at ASC LIMIT $2`,
		receivedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.WebhookEvent
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
