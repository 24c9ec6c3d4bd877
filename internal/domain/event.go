package domain

import (
	"encoding/json"

	"github.com/punchamoorthee/payrecon/internal/money"
)

// EventStatus is the provider-agnostic settlement vocabulary produced by
// gateway adapters. Adapters map each provider's wire status into exactly one
// of these values.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	// EventPartial reports incomplete settlement; SettledAmount carries the
	// provider's running total received so far, not a per-deposit delta, so
	// the same event applied twice settles to the same amount.
	EventPartial   EventStatus = "partial"
	EventSucceeded EventStatus = "succeeded"
	EventFailed    EventStatus = "failed"
	EventExpired   EventStatus = "expired"
)

// Event is a canonical gateway event: the single shape both the webhook path
// and the polling sweep feed into the reconciliation engine.
type Event struct {
	Gateway           string          `json:"gateway"`
	ProviderReference string          `json:"provider_reference"`
	Status            EventStatus     `json:"status"`
	SettledAmount     *money.Money    `json:"settled_amount,omitempty"`
	ErrorDetails      string          `json:"error_details,omitempty"`
	Raw               json.RawMessage `json:"-"`
}
