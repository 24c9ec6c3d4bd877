package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/money"
)

// Postgres persists intents and the ledger through a pgx pool. All status
// mutations are conditional updates so concurrent webhook deliveries
// linearize on the database row.
type Postgres struct {
	Db *pgxpool.Pool
}

// NewPostgres connects and pings the database.
func NewPostgres(connString string) (*Postgres, error) {
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

	return &Postgres{Db: pool}, nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

const intentColumns = `session_id, user_id, amount, currency, status, gateway, gateway_payment_id,
	pay_amount, pay_currency, crypto_address, paid_amount, paid_currency,
	failure_reason, metadata, created_at, updated_at`

// CreateIntent inserts a fresh intent row.
func (s *Postgres) CreateIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	meta, err := json.Marshal(intent.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.Db.Exec(ctx, `
		INSERT INTO payment_intents (session_id, user_id, amount, currency, status, gateway, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		intent.SessionID, intent.UserID, intent.Amount.Amount().String(), intent.Amount.Currency(),
		intent.Status, intent.Gateway, meta, intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: session %s", domain.ErrDuplicate, intent.SessionID)
		}
		return fmt.Errorf("intent insert failed: %w", err)
	}
	return nil
}

// GetBySession loads one intent with its webhook history.
func (s *Postgres) GetBySession(ctx context.Context, sessionID string) (*domain.PaymentIntent, error) {
	row := s.Db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE session_id = $1`, sessionID)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
		}
		return nil, err
	}
	if err := s.loadHistory(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// GetByProviderRef resolves the (gateway, providerReference) reconciliation
// key to its intent.
func (s *Postgres) GetByProviderRef(ctx context.Context, gateway, providerRef string) (*domain.PaymentIntent, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE gateway = $1 AND gateway_payment_id = $2`,
		gateway, providerRef)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s payment %s", domain.ErrNotFound, gateway, providerRef)
		}
		return nil, err
	}
	if err := s.loadHistory(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// UpdateIfStatus writes the intent back only if the stored status still
// matches expect. Zero rows affected means a concurrent delivery already
// advanced the intent and the caller must treat its transition as a no-op.
func (s *Postgres) UpdateIfStatus(ctx context.Context, intent *domain.PaymentIntent, expect domain.IntentStatus) error {
	meta, err := json.Marshal(intent.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var payAmount, payCurrency, paidAmount, paidCurrency *string
	if intent.PayAmount != nil {
		a, c := intent.PayAmount.Amount().String(), intent.PayAmount.Currency()
		payAmount, payCurrency = &a, &c
	}
	if intent.PaidAmount != nil {
		a, c := intent.PaidAmount.Amount().String(), intent.PaidAmount.Currency()
		paidAmount, paidCurrency = &a, &c
	}
	tag, err := s.Db.Exec(ctx, `
		UPDATE payment_intents
		SET status = $1, gateway = $2, gateway_payment_id = NULLIF($3, ''),
		    pay_amount = $4, pay_currency = $5, crypto_address = NULLIF($6, ''),
		    paid_amount = $7, paid_currency = $8,
		    failure_reason = $9, metadata = $10, updated_at = now()
		WHERE session_id = $11 AND status = $12`,
		intent.Status, intent.Gateway, intent.GatewayPaymentID,
		payAmount, payCurrency, intent.CryptoAddress,
		paidAmount, paidCurrency,
		intent.FailureReason, meta, intent.SessionID, expect,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: provider reference %s", domain.ErrDuplicate, intent.GatewayPaymentID)
		}
		return fmt.Errorf("conditional update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.Db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM payment_intents WHERE session_id = $1)",
			intent.SessionID).Scan(&exists); err != nil {
			return fmt.Errorf("existence check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: session %s", domain.ErrNotFound, intent.SessionID)
		}
		return fmt.Errorf("%w: expected %s", domain.ErrStale, expect)
	}
	return nil
}

// AppendWebhook records one delivery in the append-only history table.
func (s *Postgres) AppendWebhook(ctx context.Context, sessionID string, rec domain.WebhookRecord) error {
	payload := rec.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	_, err := s.Db.Exec(ctx, `
		INSERT INTO webhook_events (session_id, gateway, reported_status, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sessionID, rec.Gateway, rec.ReportedStatus, payload, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("webhook history insert failed: %w", err)
	}
	return nil
}

// ListStuck returns intents sitting in the given states since before cutoff,
// oldest first.
func (s *Postgres) ListStuck(ctx context.Context, statuses []domain.IntentStatus, cutoff time.Time, limit int) ([]*domain.PaymentIntent, error) {
	states := make([]string, len(statuses))
	for i, st := range statuses {
		states[i] = string(st)
	}
	rows, err := s.Db.Query(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		states, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stuck intent query failed: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

func (s *Postgres) loadHistory(ctx context.Context, intent *domain.PaymentIntent) error {
	rows, err := s.Db.Query(ctx, `
		SELECT gateway, reported_status, payload, received_at
		FROM webhook_events WHERE session_id = $1 ORDER BY id ASC`,
		intent.SessionID)
	if err != nil {
		return fmt.Errorf("webhook history query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec domain.WebhookRecord
		if err := rows.Scan(&rec.Gateway, &rec.ReportedStatus, &rec.Payload, &rec.ReceivedAt); err != nil {
			return err
		}
		intent.WebhookHistory = append(intent.WebhookHistory, rec)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*domain.PaymentIntent, error) {
	var (
		intent                       domain.PaymentIntent
		amount, currency             string
		gatewayPaymentID, cryptoAddr *string
		payAmount, payCurrency       *string
		paidAmount, paidCurrency     *string
		failureReason                *string
		meta                         []byte
	)
	err := row.Scan(
		&intent.SessionID, &intent.UserID, &amount, &currency, &intent.Status,
		&intent.Gateway, &gatewayPaymentID,
		&payAmount, &payCurrency, &cryptoAddr,
		&paidAmount, &paidCurrency,
		&failureReason, &meta, &intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if intent.Amount, err = money.Parse(amount, currency); err != nil {
		return nil, fmt.Errorf("corrupt amount for %s: %w", intent.SessionID, err)
	}
	if gatewayPaymentID != nil {
		intent.GatewayPaymentID = *gatewayPaymentID
	}
	if cryptoAddr != nil {
		intent.CryptoAddress = *cryptoAddr
	}
	if failureReason != nil {
		intent.FailureReason = *failureReason
	}
	if payAmount != nil && payCurrency != nil {
		m, err := money.Parse(*payAmount, *payCurrency)
		if err != nil {
			return nil, fmt.Errorf("corrupt pay amount for %s: %w", intent.SessionID, err)
		}
		intent.PayAmount = &m
	}
	if paidAmount != nil && paidCurrency != nil {
		m, err := money.Parse(*paidAmount, *paidCurrency)
		if err != nil {
			return nil, fmt.Errorf("corrupt paid amount for %s: %w", intent.SessionID, err)
		}
		intent.PaidAmount = &m
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &intent.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", intent.SessionID, err)
		}
	}
	return &intent, nil
}
