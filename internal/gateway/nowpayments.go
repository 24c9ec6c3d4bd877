package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/money"
)

// NOWPaymentsConfig carries credentials for the crypto-settlement gateway.
type NOWPaymentsConfig struct {
	BaseURL    string
	APIKey     string
	IPNSecret  string // HMAC-SHA512 secret for the x-nowpayments-sig header
	PayCiphers string // comma-separated accepted pay currencies, first is default
	Timeout    time.Duration
}

// NOWPayments settles intents through on-chain deposits. The payer sends
// PayAmount in PayCurrency to the returned deposit address; settlement may
// arrive in several partial deposits.
type NOWPayments struct {
	cfg  NOWPaymentsConfig
	http *httpClient
	auth Authenticator
}

func NewNOWPayments(cfg NOWPaymentsConfig) *NOWPayments {
	return &NOWPayments{
		cfg:  cfg,
		http: newHTTPClient(cfg.BaseURL, cfg.Timeout),
		auth: NewHMACSHA512("x-nowpayments-sig", cfg.IPNSecret),
	}
}

func (n *NOWPayments) Name() string { return "nowpayments" }

func (n *NOWPayments) defaultPayCurrency() string {
	parts := strings.Split(n.cfg.PayCiphers, ",")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		return strings.ToUpper(strings.TrimSpace(parts[0]))
	}
	return "BTC"
}

type nowpaymentsCreateRequest struct {
	PriceAmount   string `json:"price_amount"`
	PriceCurrency string `json:"price_currency"`
	PayCurrency   string `json:"pay_currency"`
	OrderID       string `json:"order_id"`
}

type nowpaymentsCreateResponse struct {
	PaymentID  json.Number `json:"payment_id"`
	PayAddress string      `json:"pay_address"`
	PayAmount  json.Number `json:"pay_amount"`
	PayCur     string      `json:"pay_currency"`
	Status     string      `json:"payment_status"`
}

func (n *NOWPayments) Initiate(ctx context.Context, intent *domain.PaymentIntent) (*Checkout, error) {
	payCur := n.defaultPayCurrency()
	if requested, ok := intent.Metadata["pay_currency"]; ok && requested != "" {
		payCur = strings.ToUpper(requested)
	}
	req := nowpaymentsCreateRequest{
		PriceAmount:   intent.Amount.Display(),
		PriceCurrency: intent.Amount.Currency(),
		PayCurrency:   payCur,
		OrderID:       intent.SessionID,
	}
	headers := map[string]string{"x-api-key": n.cfg.APIKey}
	var resp nowpaymentsCreateResponse
	if err := n.http.doJSON(ctx, http.MethodPost, "/v1/payment", headers, req, &resp); err != nil {
		return nil, fmt.Errorf("nowpayments initiate: %w", err)
	}
	if resp.PaymentID.String() == "" || resp.PayAddress == "" {
		return nil, fmt.Errorf("%w: nowpayments returned incomplete payment", domain.ErrGatewayRejected)
	}
	payAmount, err := parseProviderAmount(resp.PayAmount, resp.PayCur)
	if err != nil {
		return nil, fmt.Errorf("%w: nowpayments pay_amount: %v", domain.ErrGatewayRejected, err)
	}
	return &Checkout{
		DepositAddress:    resp.PayAddress,
		ProviderReference: resp.PaymentID.String(),
		PayAmount:         &payAmount,
	}, nil
}

func (n *NOWPayments) VerifyInbound(payload []byte, header http.Header) error {
	return VerifyAny(payload, header, n.auth)
}

type nowpaymentsWebhook struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PayCurrency   string      `json:"pay_currency"`
	PayAmount     json.Number `json:"pay_amount"`
	// ActuallyPaid is the running total received so far, both on IPN
	// deliveries and on status polls.
	ActuallyPaid json.Number `json:"actually_paid"`
	Outcome      string      `json:"outcome"`
}

func (n *NOWPayments) ToCanonicalEvent(payload []byte) (*domain.Event, error) {
	var hook nowpaymentsWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("%w: malformed nowpayments payload", domain.ErrValidation)
	}
	return n.eventFrom(hook, payload)
}

func (n *NOWPayments) eventFrom(hook nowpaymentsWebhook, raw []byte) (*domain.Event, error) {
	if hook.PaymentID.String() == "" {
		return nil, fmt.Errorf("%w: payment_id required", domain.ErrValidation)
	}
	ev := &domain.Event{
		Gateway:           n.Name(),
		ProviderReference: hook.PaymentID.String(),
		Raw:               json.RawMessage(raw),
	}
	switch strings.ToLower(hook.PaymentStatus) {
	case "waiting":
		ev.Status = domain.EventPending
	case "confirming", "confirmed", "sending":
		ev.Status = domain.EventProcessing
	case "partially_paid":
		ev.Status = domain.EventPartial
		settled, err := parseProviderAmount(hook.ActuallyPaid, hook.PayCurrency)
		if err != nil {
			return nil, fmt.Errorf("%w: nowpayments actually_paid: %v", domain.ErrValidation, err)
		}
		ev.SettledAmount = &settled
	case "finished":
		ev.Status = domain.EventSucceeded
		if hook.ActuallyPaid.String() != "" {
			settled, err := parseProviderAmount(hook.ActuallyPaid, hook.PayCurrency)
			if err != nil {
				return nil, fmt.Errorf("%w: nowpayments actually_paid: %v", domain.ErrValidation, err)
			}
			ev.SettledAmount = &settled
		}
	case "failed", "refunded":
		ev.Status = domain.EventFailed
		ev.ErrorDetails = hook.Outcome
	case "expired":
		ev.Status = domain.EventExpired
	default:
		return nil, fmt.Errorf("%w: unknown nowpayments status %q", domain.ErrValidation, hook.PaymentStatus)
	}
	return ev, nil
}

func (n *NOWPayments) PollStatus(ctx context.Context, providerReference string) (*domain.Event, error) {
	headers := map[string]string{"x-api-key": n.cfg.APIKey}
	var hook nowpaymentsWebhook
	if err := n.http.doJSON(ctx, http.MethodGet, "/v1/payment/"+providerReference, headers, nil, &hook); err != nil {
		return nil, fmt.Errorf("nowpayments poll: %w", err)
	}
	hook.PaymentID = json.Number(providerReference)
	return n.eventFrom(hook, nil)
}

// parseProviderAmount accepts both string and numeric JSON amounts. Numeric
// inputs go through decimal parsing of the literal, never float64.
func parseProviderAmount(num json.Number, currency string) (money.Money, error) {
	raw := num.String()
	if raw == "" {
		return money.Money{}, fmt.Errorf("empty amount")
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return money.Money{}, fmt.Errorf("amount %q not numeric", raw)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(d, currency), nil
}
