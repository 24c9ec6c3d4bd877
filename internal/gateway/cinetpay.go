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

// CinetPayConfig carries the merchant credentials for the CinetPay
// cash-collection gateway.
type CinetPayConfig struct {
	BaseURL      string
	APIKey       string
	SiteID       string
	Secret       string // shared secret for the x-token webhook signature
	WebhookToken string // optional bearer token fallback accepted on webhooks
	NotifyURL    string
	ReturnURL    string
	Timeout      time.Duration
}

// CinetPay is the cash-collection adapter for the CinetPay aggregator
// (mobile money and card rails across West/Central Africa).
type CinetPay struct {
	cfg   CinetPayConfig
	http  *httpClient
	auths []Authenticator
}

func NewCinetPay(cfg CinetPayConfig) *CinetPay {
	auths := []Authenticator{NewHMACSHA256("x-token", cfg.Secret)}
	if cfg.WebhookToken != "" {
		auths = append(auths, BearerAuthenticator{Token: cfg.WebhookToken})
	}
	return &CinetPay{
		cfg:   cfg,
		http:  newHTTPClient(cfg.BaseURL, cfg.Timeout),
		auths: auths,
	}
}

func (c *CinetPay) Name() string { return "cinetpay" }

type cinetpayInitRequest struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	NotifyURL     string `json:"notify_url"`
	ReturnURL     string `json:"return_url"`
	Channels      string `json:"channels"`
}

type cinetpayInitResponse struct {
	Code string `json:"code"`
	Data struct {
		PaymentURL   string `json:"payment_url"`
		PaymentToken string `json:"payment_token"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *CinetPay) Initiate(ctx context.Context, intent *domain.PaymentIntent) (*Checkout, error) {
	ref := "CP-" + intent.SessionID
	req := cinetpayInitRequest{
		APIKey:        c.cfg.APIKey,
		SiteID:        c.cfg.SiteID,
		TransactionID: ref,
		Amount:        intent.Amount.Display(),
		Currency:      intent.Amount.Currency(),
		Description:   "payment " + intent.SessionID,
		NotifyURL:     c.cfg.NotifyURL,
		ReturnURL:     c.cfg.ReturnURL,
		Channels:      "ALL",
	}
	var resp cinetpayInitResponse
	if err := c.http.doJSON(ctx, http.MethodPost, "/v2/payment", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("cinetpay initiate: %w", err)
	}
	if resp.Code != "201" {
		return nil, fmt.Errorf("%w: cinetpay code %s: %s", domain.ErrGatewayRejected, resp.Code, resp.Message)
	}
	return &Checkout{
		Target:            resp.Data.PaymentURL,
		ProviderReference: ref,
	}, nil
}

func (c *CinetPay) VerifyInbound(payload []byte, header http.Header) error {
	return VerifyAny(payload, header, c.auths...)
}

type cinetpayWebhook struct {
	TransID      string `json:"cpm_trans_id"`
	SiteID       string `json:"cpm_site_id"`
	Amount       string `json:"cpm_amount"`
	Currency     string `json:"cpm_currency"`
	TransStatus  string `json:"cpm_trans_status"`
	ErrorMessage string `json:"cpm_error_message"`
}

func (c *CinetPay) ToCanonicalEvent(payload []byte) (*domain.Event, error) {
	var hook cinetpayWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("%w: malformed cinetpay payload", domain.ErrValidation)
	}
	if hook.TransID == "" {
		return nil, fmt.Errorf("%w: cpm_trans_id required", domain.ErrValidation)
	}
	ev := &domain.Event{
		Gateway:           c.Name(),
		ProviderReference: hook.TransID,
		Raw:               json.RawMessage(payload),
	}
	switch strings.ToUpper(hook.TransStatus) {
	case "ACCEPTED":
		ev.Status = domain.EventSucceeded
		if hook.Amount != "" {
			settled, err := money.Parse(hook.Amount, hook.Currency)
			if err != nil {
				return nil, fmt.Errorf("%w: cinetpay amount: %v", domain.ErrValidation, err)
			}
			ev.SettledAmount = &settled
		}
	case "REFUSED":
		ev.Status = domain.EventFailed
		ev.ErrorDetails = hook.ErrorMessage
	case "EXPIRED":
		ev.Status = domain.EventExpired
		ev.ErrorDetails = hook.ErrorMessage
	case "WAITING_FOR_CUSTOMER", "PENDING":
		ev.Status = domain.EventProcessing
	default:
		return nil, fmt.Errorf("%w: unknown cinetpay status %q", domain.ErrValidation, hook.TransStatus)
	}
	return ev, nil
}

type cinetpayCheckRequest struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
}

type cinetpayCheckResponse struct {
	Code string `json:"code"`
	Data struct {
		Status       string `json:"status"`
		Amount       string `json:"amount"`
		Currency     string `json:"currency"`
		ErrorMessage string `json:"error_message"`
	} `json:"data"`
}

func (c *CinetPay) PollStatus(ctx context.Context, providerReference string) (*domain.Event, error) {
	req := cinetpayCheckRequest{APIKey: c.cfg.APIKey, SiteID: c.cfg.SiteID, TransactionID: providerReference}
	var resp cinetpayCheckResponse
	if err := c.http.doJSON(ctx, http.MethodPost, "/v2/payment/check", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("cinetpay check: %w", err)
	}
	raw, _ := json.Marshal(resp.Data)
	synthetic := cinetpayWebhook{
		TransID:      providerReference,
		Amount:       resp.Data.Amount,
		Currency:     resp.Data.Currency,
		TransStatus:  resp.Data.Status,
		ErrorMessage: resp.Data.ErrorMessage,
	}
	encoded, err := json.Marshal(synthetic)
	if err != nil {
		return nil, err
	}
	ev, err := c.ToCanonicalEvent(encoded)
	if err != nil {
		return nil, err
	}
	ev.Raw = raw
	return ev, nil
}
