package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

func TestNOWPaymentsInitiate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment", r.URL.Path)
		require.Equal(t, "api-key", r.Header.Get("x-api-key"))
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		require.Equal(t, "BTC", req["pay_currency"])
		json.NewEncoder(w).Encode(map[string]any{
			"payment_id":     4945313071,
			"pay_address":    "3EZ2uTdVDAMFXTfc6uLDDKR6o8qKBZXVkj",
			"pay_amount":     0.01,
			"pay_currency":   "BTC",
			"payment_status": "waiting",
		})
	}))
	defer srv.Close()

	adapter := NewNOWPayments(NOWPaymentsConfig{BaseURL: srv.URL, APIKey: "api-key", IPNSecret: "s", PayCiphers: "BTC,ETH"})
	checkout, err := adapter.Initiate(context.Background(), testIntent(t, "5000", "XOF"))
	require.NoError(t, err)
	require.Equal(t, "4945313071", checkout.ProviderReference)
	require.Equal(t, "3EZ2uTdVDAMFXTfc6uLDDKR6o8qKBZXVkj", checkout.DepositAddress)
	require.NotNil(t, checkout.PayAmount)
	require.Equal(t, "0.01 BTC", checkout.PayAmount.String())
}

func TestNOWPaymentsInitiate_MetadataPayCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		require.Equal(t, "ETH", req["pay_currency"])
		json.NewEncoder(w).Encode(map[string]any{
			"payment_id":   "77",
			"pay_address":  "0xabc",
			"pay_amount":   "1.5",
			"pay_currency": "ETH",
		})
	}))
	defer srv.Close()

	adapter := NewNOWPayments(NOWPaymentsConfig{BaseURL: srv.URL, IPNSecret: "s", PayCiphers: "BTC"})
	intent := testIntent(t, "5000", "XOF")
	intent.Metadata = map[string]string{"pay_currency": "eth"}
	checkout, err := adapter.Initiate(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, "1.5 ETH", checkout.PayAmount.String())
}

func TestNOWPaymentsInitiate_IncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"payment_id": 1})
	}))
	defer srv.Close()

	adapter := NewNOWPayments(NOWPaymentsConfig{BaseURL: srv.URL, IPNSecret: "s"})
	_, err := adapter.Initiate(context.Background(), testIntent(t, "5000", "XOF"))
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestNOWPaymentsToCanonicalEvent(t *testing.T) {
	adapter := NewNOWPayments(NOWPaymentsConfig{IPNSecret: "s"})

	cases := []struct {
		name    string
		payload string
		status  domain.EventStatus
		settled string
	}{
		{
			name:    "waiting",
			payload: `{"payment_id":42,"payment_status":"waiting"}`,
			status:  domain.EventPending,
		},
		{
			name:    "confirming",
			payload: `{"payment_id":42,"payment_status":"confirming"}`,
			status:  domain.EventProcessing,
		},
		{
			name:    "partial carries the running total",
			payload: `{"payment_id":42,"payment_status":"partially_paid","pay_currency":"BTC","actually_paid":0.004}`,
			status:  domain.EventPartial,
			settled: "0.004 BTC",
		},
		{
			name:    "partial accepts string amounts",
			payload: `{"payment_id":42,"payment_status":"partially_paid","pay_currency":"BTC","actually_paid":"0.006"}`,
			status:  domain.EventPartial,
			settled: "0.006 BTC",
		},
		{
			name:    "finished",
			payload: `{"payment_id":42,"payment_status":"finished","pay_currency":"BTC","actually_paid":0.01}`,
			status:  domain.EventSucceeded,
			settled: "0.01 BTC",
		},
		{
			name:    "failed",
			payload: `{"payment_id":42,"payment_status":"failed","outcome":"refund pending"}`,
			status:  domain.EventFailed,
		},
		{
			name:    "expired",
			payload: `{"payment_id":42,"payment_status":"expired"}`,
			status:  domain.EventExpired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := adapter.ToCanonicalEvent([]byte(tc.payload))
			require.NoError(t, err)
			require.Equal(t, "nowpayments", ev.Gateway)
			require.Equal(t, "42", ev.ProviderReference)
			require.Equal(t, tc.status, ev.Status)
			if tc.settled == "" {
				require.Nil(t, ev.SettledAmount)
			} else {
				require.NotNil(t, ev.SettledAmount)
				require.Equal(t, tc.settled, ev.SettledAmount.String())
			}
		})
	}
}

func TestNOWPaymentsToCanonicalEvent_Invalid(t *testing.T) {
	adapter := NewNOWPayments(NOWPaymentsConfig{IPNSecret: "s"})

	_, err := adapter.ToCanonicalEvent([]byte(`{"payment_status":"waiting"}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = adapter.ToCanonicalEvent([]byte(`{"payment_id":42,"payment_status":"galactic"}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	// Partial without a parseable amount is rejected, not silently zeroed.
	_, err = adapter.ToCanonicalEvent([]byte(`{"payment_id":42,"payment_status":"partially_paid","pay_currency":"BTC"}`))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNOWPaymentsVerifyInbound(t *testing.T) {
	adapter := NewNOWPayments(NOWPaymentsConfig{IPNSecret: "ipn-secret"})
	payload := []byte(`{"payment_id":42,"payment_status":"finished"}`)

	header := http.Header{}
	header.Set("x-nowpayments-sig", signSHA512("ipn-secret", payload))
	require.NoError(t, adapter.VerifyInbound(payload, header))

	header.Set("x-nowpayments-sig", signSHA512("impostor", payload))
	require.ErrorIs(t, adapter.VerifyInbound(payload, header), domain.ErrAuthentication)
}

func TestNOWPaymentsPollStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment/42", r.URL.Path)
		// The status endpoint reports the payment's current state, so
		// actually_paid is the same running total the IPN carries.
		json.NewEncoder(w).Encode(map[string]any{
			"payment_status": "partially_paid",
			"pay_currency":   "BTC",
			"actually_paid":  0.004,
		})
	}))
	defer srv.Close()

	adapter := NewNOWPayments(NOWPaymentsConfig{BaseURL: srv.URL, APIKey: "k", IPNSecret: "s"})
	ev, err := adapter.PollStatus(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "42", ev.ProviderReference)
	require.Equal(t, domain.EventPartial, ev.Status)
	require.Equal(t, "0.004 BTC", ev.SettledAmount.String())
}
