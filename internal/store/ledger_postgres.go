package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/money"
)

const txColumns = `transaction_id, user_id, type, amount, currency, fee, status, description,
	related_transactions, deleted, deleted_at, created_at, updated_at`

// CreateIfNotExists inserts a ledger row keyed by transaction id. The
// ON CONFLICT DO NOTHING clause makes the write idempotent under retry: the
// bool result reports whether this call created the row.
func (s *Postgres) CreateIfNotExists(ctx context.Context, tx *domain.Transaction) (bool, error) {
	tag, err := s.Db.Exec(ctx, `
		INSERT INTO transactions (transaction_id, user_id, type, amount, currency, fee, status, description, related_transactions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (transaction_id) DO NOTHING`,
		tx.TransactionID, tx.UserID, tx.Type,
		tx.Amount.Amount().String(), tx.Amount.Currency(), tx.Fee.Amount().String(),
		tx.Status, tx.Description, tx.RelatedTransactions, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("ledger insert failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetTransaction loads one ledger row. Soft-deleted rows are hidden unless
// includeDeleted is set.
func (s *Postgres) GetTransaction(ctx context.Context, id string, includeDeleted bool) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE transaction_id = $1`
	if !includeDeleted {
		query += ` AND NOT deleted`
	}
	tx, err := scanTransaction(s.Db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return tx, nil
}

// ListTransactions returns a user's ledger history, newest first, excluding
// soft-deleted rows by default.
func (s *Postgres) ListTransactions(ctx context.Context, userID string, includeDeleted bool) ([]*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE user_id = $1`
	if !includeDeleted {
		query += ` AND NOT deleted`
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.Db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger list failed: %w", err)
	}
	defer rows.Close()
	var out []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// UpdateTransactionStatus moves a row along its status graph with a
// conditional update on the current status.
func (s *Postgres) UpdateTransactionStatus(ctx context.Context, id string, to domain.TransactionStatus) error {
	current, err := s.GetTransaction(ctx, id, false)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(to) {
		return fmt.Errorf("%w: transaction %s -> %s", domain.ErrIllegalTransition, current.Status, to)
	}
	tag, err := s.Db.Exec(ctx, `
		UPDATE transactions SET status = $1, updated_at = now()
		WHERE transaction_id = $2 AND status = $3 AND NOT deleted`,
		to, id, current.Status)
	if err != nil {
		return fmt.Errorf("ledger status update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected %s", domain.ErrStale, current.Status)
	}
	return nil
}

// SoftDelete flags a row as deleted with an audit timestamp. Rows are never
// hard-deleted.
func (s *Postgres) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.Db.Exec(ctx, `
		UPDATE transactions SET deleted = TRUE, deleted_at = now(), updated_at = now()
		WHERE transaction_id = $1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("ledger soft delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	return nil
}

// Balance sums completed, non-deleted amounts for a user and currency.
// Soft-deleted rows never re-enter this computation.
func (s *Postgres) Balance(ctx context.Context, userID, currency string) (money.Money, error) {
	var total string
	err := s.Db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM transactions
		WHERE user_id = $1 AND currency = $2 AND status = $3 AND NOT deleted`,
		userID, currency, domain.TxStatusCompleted).Scan(&total)
	if err != nil {
		return money.Money{}, fmt.Errorf("balance query failed: %w", err)
	}
	return money.Parse(total, currency)
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tx               domain.Transaction
		amount, currency string
		fee              string
		description      *string
		related          []string
	)
	err := row.Scan(
		&tx.TransactionID, &tx.UserID, &tx.Type, &amount, &currency, &fee,
		&tx.Status, &description, &related, &tx.Deleted, &tx.DeletedAt,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tx.Amount, err = money.Parse(amount, currency); err != nil {
		return nil, fmt.Errorf("corrupt ledger amount for %s: %w", tx.TransactionID, err)
	}
	if tx.Fee, err = money.Parse(fee, currency); err != nil {
		return nil, fmt.Errorf("corrupt ledger fee for %s: %w", tx.TransactionID, err)
	}
	if description != nil {
		tx.Description = *description
	}
	tx.RelatedTransactions = related
	return &tx, nil
}
