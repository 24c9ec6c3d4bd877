package domain

import (
	"encoding/json"
	"time"

	"github.com/punchamoorthee/payrecon/internal/money"
)

// IntentStatus enumerates the payment-intent lifecycle states.
type IntentStatus string

const (
	StatusPendingUserInput  IntentStatus = "PENDING_USER_INPUT"
	StatusPendingProvider   IntentStatus = "PENDING_PROVIDER"
	StatusProcessing        IntentStatus = "PROCESSING"
	StatusWaitingForDeposit IntentStatus = "WAITING_FOR_CRYPTO_DEPOSIT"
	StatusPartiallyPaid     IntentStatus = "PARTIALLY_PAID"
	StatusSucceeded         IntentStatus = "SUCCEEDED"
	StatusFailed            IntentStatus = "FAILED"
	StatusError             IntentStatus = "ERROR"
)

// Terminal reports whether the status admits no further natural transitions.
// ERROR is recoverable and therefore not terminal.
func (s IntentStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// WebhookRecord is one append-only entry in an intent's delivery history.
// Records are never mutated after insertion; they are the audit trail for
// reconciliation disputes.
type WebhookRecord struct {
	ReceivedAt     time.Time       `json:"received_at"`
	Gateway        string          `json:"gateway"`
	ReportedStatus string          `json:"reported_status"`
	Payload        json.RawMessage `json:"payload"`
}

// PaymentIntent tracks one attempt by a user to pay, from creation through
// terminal settlement.
type PaymentIntent struct {
	SessionID        string       `json:"session_id"`
	UserID           string       `json:"user_id"`
	Amount           money.Money  `json:"amount"`
	Status           IntentStatus `json:"status"`
	Gateway          string       `json:"gateway"` // empty until a provider is chosen
	GatewayPaymentID string       `json:"gateway_payment_id,omitempty"`

	// Crypto settlement fields: the payer sends PayAmount in PayCurrency to
	// CryptoAddress; PaidAmount accumulates partial deposits.
	PayAmount     *money.Money `json:"pay_amount,omitempty"`
	CryptoAddress string       `json:"crypto_address,omitempty"`
	PaidAmount    *money.Money `json:"paid_amount,omitempty"`

	FailureReason  string            `json:"failure_reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	WebhookHistory []WebhookRecord   `json:"webhook_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Paid returns the accumulated settled amount, zero-valued in the intent
// currency when nothing has been received yet.
func (p *PaymentIntent) Paid() money.Money {
	if p.PaidAmount != nil {
		return *p.PaidAmount
	}
	cur := p.Amount.Currency()
	if p.PayAmount != nil {
		cur = p.PayAmount.Currency()
	}
	return money.Zero(cur)
}

// Clone produces a deep copy so stores can hand out records without aliasing
// the metadata map or webhook history.
func (p *PaymentIntent) Clone() *PaymentIntent {
	dup := *p
	if p.PayAmount != nil {
		v := *p.PayAmount
		dup.PayAmount = &v
	}
	if p.PaidAmount != nil {
		v := *p.PaidAmount
		dup.PaidAmount = &v
	}
	if p.Metadata != nil {
		dup.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			dup.Metadata[k] = v
		}
	}
	if p.WebhookHistory != nil {
		dup.WebhookHistory = append([]WebhookRecord(nil), p.WebhookHistory...)
	}
	return &dup
}
