package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

// callbackURLKey is the metadata key carrying the caller's completion target.
const callbackURLKey = "callback_url"

// Webhook posts the terminal result to the callback URL the caller attached
// to the intent's metadata. The receiving service is expected to be
// idempotent on session id.
type Webhook struct {
	client     *http.Client
	defaultURL string
	logger     *slog.Logger
}

// NewWebhook builds a notifier. defaultURL may be empty; intents without a
// callback_url metadata entry are then skipped.
func NewWebhook(defaultURL string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		client:     &http.Client{Timeout: timeout},
		defaultURL: defaultURL,
		logger:     logger,
	}
}

type completionPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// OnPaymentCompleted delivers the completion callback.
func (w *Webhook) OnPaymentCompleted(ctx context.Context, intent *domain.PaymentIntent) error {
	target := w.defaultURL
	if url, ok := intent.Metadata[callbackURLKey]; ok && url != "" {
		target = url
	}
	if target == "" {
		w.logger.Info("no completion target configured", "session_id", intent.SessionID)
		return nil
	}
	body, err := json.Marshal(completionPayload{
		SessionID: intent.SessionID,
		UserID:    intent.UserID,
		Status:    string(intent.Status),
		Amount:    intent.Amount.Amount().String(),
		Currency:  intent.Amount.Currency(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("completion callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("completion callback returned %d", resp.StatusCode)
	}
	return nil
}

// Nop discards completion notifications. Used when no business service is
// wired, and in tests.
type Nop struct{}

func (Nop) OnPaymentCompleted(context.Context, *domain.PaymentIntent) error { return nil }
