package domain

import (
	"time"

	"github.com/punchamoorthee/payrecon/internal/money"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxTypeDeposit    TransactionType = "deposit"
	TxTypeWithdrawal TransactionType = "withdrawal"
	TxTypeTransfer   TransactionType = "transfer"
	TxTypePayment    TransactionType = "payment"
	TxTypeRefund     TransactionType = "refund"
	TxTypeFee        TransactionType = "fee"
	TxTypeConversion TransactionType = "conversion"
)

// TransactionStatus enumerates the ledger entry status graph.
type TransactionStatus string

const (
	TxStatusPending              TransactionStatus = "pending"
	TxStatusProcessing           TransactionStatus = "processing"
	TxStatusPendingOTP           TransactionStatus = "pending_otp_verification"
	TxStatusPendingAdminApproval TransactionStatus = "pending_admin_approval"
	TxStatusCompleted            TransactionStatus = "completed"
	TxStatusFailed               TransactionStatus = "failed"
	TxStatusCancelled            TransactionStatus = "cancelled"
	TxStatusRejectedByAdmin      TransactionStatus = "rejected_by_admin"
	TxStatusExpired              TransactionStatus = "expired"
	TxStatusRefunded             TransactionStatus = "refunded"
)

// Transaction is an append-mostly ledger entry. TransactionID is generated
// once and never reused; it is the idempotency key for ledger writes.
// Rows are never hard-deleted: corrections soft-delete and a soft-deleted
// row must never re-enter balance computations.
type Transaction struct {
	TransactionID string            `json:"transaction_id"`
	UserID        string            `json:"user_id"`
	Type          TransactionType   `json:"type"`
	Amount        money.Money       `json:"amount"` // signed: debits are negative
	Fee           money.Money       `json:"fee"`
	Status        TransactionStatus `json:"status"`
	Description   string            `json:"description,omitempty"`

	// RelatedTransactions links reversing or paired entries: a transfer's
	// debit and credit, a refund and its original.
	RelatedTransactions []string `json:"related_transactions,omitempty"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// txStatusEdges is the legal status graph for ledger entries.
var txStatusEdges = map[TransactionStatus][]TransactionStatus{
	TxStatusPending:              {TxStatusProcessing, TxStatusPendingOTP, TxStatusPendingAdminApproval, TxStatusCompleted, TxStatusFailed, TxStatusCancelled, TxStatusExpired},
	TxStatusProcessing:           {TxStatusCompleted, TxStatusFailed, TxStatusCancelled},
	TxStatusPendingOTP:           {TxStatusProcessing, TxStatusCancelled, TxStatusExpired},
	TxStatusPendingAdminApproval: {TxStatusProcessing, TxStatusRejectedByAdmin, TxStatusCancelled, TxStatusExpired},
	TxStatusCompleted:            {TxStatusRefunded},
}

// CanTransition reports whether a ledger entry may move from -> to.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	for _, next := range txStatusEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}
