package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/money"
)

func testIntent(t *testing.T, amount, currency string) *domain.PaymentIntent {
	t.Helper()
	m, err := money.Parse(amount, currency)
	require.NoError(t, err)
	return &domain.PaymentIntent{
		SessionID: "sess-1",
		UserID:    "user-1",
		Amount:    m,
		Status:    domain.StatusPendingProvider,
	}
}

func TestCinetPayInitiate(t *testing.T) {
	var gotPath string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{
			"code": "201",
			"data": map[string]string{"payment_url": "https://checkout.example/pay/abc"},
		})
	}))
	defer srv.Close()

	adapter := NewCinetPay(CinetPayConfig{BaseURL: srv.URL, APIKey: "key", SiteID: "site", Secret: "s"})
	checkout, err := adapter.Initiate(context.Background(), testIntent(t, "5000", "XOF"))
	require.NoError(t, err)
	require.Equal(t, "/v2/payment", gotPath)
	require.Equal(t, "CP-sess-1", gotReq["transaction_id"])
	require.Equal(t, "5000.00", gotReq["amount"])
	require.Equal(t, "CP-sess-1", checkout.ProviderReference)
	require.Equal(t, "https://checkout.example/pay/abc", checkout.Target)
	require.Empty(t, checkout.DepositAddress)
}

func TestCinetPayInitiate_ProviderRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": "608", "message": "MINIMUM_REQUIRED_FIELDS"})
	}))
	defer srv.Close()

	adapter := NewCinetPay(CinetPayConfig{BaseURL: srv.URL, Secret: "s"})
	_, err := adapter.Initiate(context.Background(), testIntent(t, "5000", "XOF"))
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestCinetPayInitiate_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewCinetPay(CinetPayConfig{BaseURL: srv.URL, Secret: "s"})
	_, err := adapter.Initiate(context.Background(), testIntent(t, "5000", "XOF"))
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestCinetPayToCanonicalEvent(t *testing.T) {
	adapter := NewCinetPay(CinetPayConfig{Secret: "s"})

	cases := []struct {
		name    string
		payload string
		status  domain.EventStatus
		settled string
		details string
	}{
		{
			name:    "accepted",
			payload: `{"cpm_trans_id":"CP-1","cpm_trans_status":"ACCEPTED","cpm_amount":"5000","cpm_currency":"XOF"}`,
			status:  domain.EventSucceeded,
			settled: "5000 XOF",
		},
		{
			name:    "refused",
			payload: `{"cpm_trans_id":"CP-1","cpm_trans_status":"REFUSED","cpm_error_message":"insufficient funds"}`,
			status:  domain.EventFailed,
			details: "insufficient funds",
		},
		{
			name:    "expired",
			payload: `{"cpm_trans_id":"CP-1","cpm_trans_status":"EXPIRED"}`,
			status:  domain.EventExpired,
		},
		{
			name:    "waiting",
			payload: `{"cpm_trans_id":"CP-1","cpm_trans_status":"WAITING_FOR_CUSTOMER"}`,
			status:  domain.EventProcessing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := adapter.ToCanonicalEvent([]byte(tc.payload))
			require.NoError(t, err)
			require.Equal(t, "cinetpay", ev.Gateway)
			require.Equal(t, "CP-1", ev.ProviderReference)
			require.Equal(t, tc.status, ev.Status)
			require.Equal(t, tc.details, ev.ErrorDetails)
			if tc.settled == "" {
				require.Nil(t, ev.SettledAmount)
			} else {
				require.NotNil(t, ev.SettledAmount)
				require.Equal(t, tc.settled, ev.SettledAmount.String())
			}
		})
	}
}

func TestCinetPayToCanonicalEvent_Invalid(t *testing.T) {
	adapter := NewCinetPay(CinetPayConfig{Secret: "s"})

	_, err := adapter.ToCanonicalEvent([]byte(`not-json`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = adapter.ToCanonicalEvent([]byte(`{"cpm_trans_status":"ACCEPTED"}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = adapter.ToCanonicalEvent([]byte(`{"cpm_trans_id":"CP-1","cpm_trans_status":"SOMETHING_NEW"}`))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCinetPayVerifyInbound_BearerFallback(t *testing.T) {
	adapter := NewCinetPay(CinetPayConfig{Secret: "s", WebhookToken: "fallback-token"})
	payload := []byte(`{"cpm_trans_id":"CP-1"}`)

	header := http.Header{}
	header.Set("x-token", signSHA256("s", payload))
	require.NoError(t, adapter.VerifyInbound(payload, header))

	header = http.Header{}
	header.Set("Authorization", "Bearer fallback-token")
	require.NoError(t, adapter.VerifyInbound(payload, header))

	header = http.Header{}
	header.Set("x-token", signSHA256("other", payload))
	require.ErrorIs(t, adapter.VerifyInbound(payload, header), domain.ErrAuthentication)
}

func TestCinetPayPollStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/payment/check", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"code": "00",
			"data": map[string]string{"status": "ACCEPTED", "amount": "5000", "currency": "XOF"},
		})
	}))
	defer srv.Close()

	adapter := NewCinetPay(CinetPayConfig{BaseURL: srv.URL, Secret: "s"})
	ev, err := adapter.PollStatus(context.Background(), "CP-sess-1")
	require.NoError(t, err)
	require.Equal(t, "CP-sess-1", ev.ProviderReference)
	require.Equal(t, domain.EventSucceeded, ev.Status)
	require.NotNil(t, ev.SettledAmount)
	require.Equal(t, "5000 XOF", ev.SettledAmount.String())
}
