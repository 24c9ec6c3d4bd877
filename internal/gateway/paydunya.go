package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/money"
)

// PayDunyaConfig carries merchant credentials for the PayDunya
// cash-collection gateway.
type PayDunyaConfig struct {
	BaseURL     string
	MasterKey   string
	PrivateKey  string
	Token       string
	WebhookUser string // Basic auth credentials accepted on webhooks
	WebhookPass string
	CallbackURL string
	Timeout     time.Duration
}

// PayDunya is the second cash-collection adapter. Its webhooks authenticate
// with either Basic credentials or a bearer copy of the master key; both are
// accepted, tried in order.
type PayDunya struct {
	cfg   PayDunyaConfig
	http  *httpClient
	auths []Authenticator
}

func NewPayDunya(cfg PayDunyaConfig) *PayDunya {
	return &PayDunya{
		cfg:  cfg,
		http: newHTTPClient(cfg.BaseURL, cfg.Timeout),
		auths: []Authenticator{
			BasicAuthenticator{Username: cfg.WebhookUser, Password: cfg.WebhookPass},
			BearerAuthenticator{Token: cfg.MasterKey},
		},
	}
}

func (p *PayDunya) Name() string { return "paydunya" }

func (p *PayDunya) apiHeaders() map[string]string {
	return map[string]string{
		"PAYDUNYA-MASTER-KEY":  p.cfg.MasterKey,
		"PAYDUNYA-PRIVATE-KEY": p.cfg.PrivateKey,
		"PAYDUNYA-TOKEN":       p.cfg.Token,
	}
}

type paydunyaInvoiceRequest struct {
	Invoice struct {
		TotalAmount string `json:"total_amount"`
		Currency    string `json:"currency"`
		Description string `json:"description"`
	} `json:"invoice"`
	Actions struct {
		CallbackURL string `json:"callback_url"`
	} `json:"actions"`
	CustomData map[string]string `json:"custom_data,omitempty"`
}

type paydunyaInvoiceResponse struct {
	ResponseCode string `json:"response_code"`
	ResponseText string `json:"response_text"`
	Token        string `json:"token"`
	URL          string `json:"invoice_url"`
}

func (p *PayDunya) Initiate(ctx context.Context, intent *domain.PaymentIntent) (*Checkout, error) {
	var req paydunyaInvoiceRequest
	req.Invoice.TotalAmount = intent.Amount.Display()
	req.Invoice.Currency = intent.Amount.Currency()
	req.Invoice.Description = "payment " + intent.SessionID
	req.Actions.CallbackURL = p.cfg.CallbackURL
	req.CustomData = map[string]string{"session_id": intent.SessionID}

	var resp paydunyaInvoiceResponse
	if err := p.http.doJSON(ctx, http.MethodPost, "/v1/checkout-invoice/create", p.apiHeaders(), req, &resp); err != nil {
		return nil, fmt.Errorf("paydunya initiate: %w", err)
	}
	if resp.ResponseCode != "00" {
		return nil, fmt.Errorf("%w: paydunya code %s: %s", domain.ErrGatewayRejected, resp.ResponseCode, resp.ResponseText)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: paydunya returned no invoice token", domain.ErrGatewayRejected)
	}
	return &Checkout{
		Target:            resp.URL,
		ProviderReference: resp.Token,
	}, nil
}

func (p *PayDunya) VerifyInbound(payload []byte, header http.Header) error {
	return VerifyAny(payload, header, p.auths...)
}

type paydunyaWebhook struct {
	Data struct {
		Status  string `json:"status"`
		Invoice struct {
			Token       string `json:"token"`
			TotalAmount string `json:"total_amount"`
			Currency    string `json:"currency"`
		} `json:"invoice"`
		FailReason string `json:"fail_reason"`
	} `json:"data"`
}

func (p *PayDunya) ToCanonicalEvent(payload []byte) (*domain.Event, error) {
	var hook paydunyaWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("%w: malformed paydunya payload", domain.ErrValidation)
	}
	if hook.Data.Invoice.Token == "" {
		return nil, fmt.Errorf("%w: invoice token required", domain.ErrValidation)
	}
	ev := &domain.Event{
		Gateway:           p.Name(),
		ProviderReference: hook.Data.Invoice.Token,
		Raw:               json.RawMessage(payload),
	}
	switch strings.ToLower(hook.Data.Status) {
	case "completed":
		ev.Status = domain.EventSucceeded
		if hook.Data.Invoice.TotalAmount != "" {
			settled, err := money.Parse(hook.Data.Invoice.TotalAmount, hook.Data.Invoice.Currency)
			if err != nil {
				return nil, fmt.Errorf("%w: paydunya amount: %v", domain.ErrValidation, err)
			}
			ev.SettledAmount = &settled
		}
	case "cancelled", "failed":
		ev.Status = domain.EventFailed
		ev.ErrorDetails = hook.Data.FailReason
	case "expired":
		ev.Status = domain.EventExpired
	case "pending":
		ev.Status = domain.EventProcessing
	default:
		return nil, fmt.Errorf("%w: unknown paydunya status %q", domain.ErrValidation, hook.Data.Status)
	}
	return ev, nil
}

func (p *PayDunya) PollStatus(ctx context.Context, providerReference string) (*domain.Event, error) {
	var resp paydunyaWebhook
	if err := p.http.doJSON(ctx, http.MethodGet, "/v1/checkout-invoice/confirm/"+providerReference, p.apiHeaders(), nil, &resp.Data); err != nil {
		return nil, fmt.Errorf("paydunya confirm: %w", err)
	}
	resp.Data.Invoice.Token = providerReference
	encoded, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return p.ToCanonicalEvent(encoded)
}
