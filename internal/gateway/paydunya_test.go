package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

func TestPayDunyaInitiate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout-invoice/create", r.URL.Path)
		require.Equal(t, "mk", r.Header.Get("PAYDUNYA-MASTER-KEY"))
		require.Equal(t, "pk", r.Header.Get("PAYDUNYA-PRIVATE-KEY"))
		json.NewEncoder(w).Encode(map[string]string{
			"response_code": "00",
			"token":         "inv-token-1",
			"invoice_url":   "https://paydunya.example/invoice/inv-token-1",
		})
	}))
	defer srv.Close()

	adapter := NewPayDunya(PayDunyaConfig{BaseURL: srv.URL, MasterKey: "mk", PrivateKey: "pk", Token: "tk"})
	checkout, err := adapter.Initiate(context.Background(), testIntent(t, "5000", "XOF"))
	require.NoError(t, err)
	require.Equal(t, "inv-token-1", checkout.ProviderReference)
	require.Equal(t, "https://paydunya.example/invoice/inv-token-1", checkout.Target)
}

func TestPayDunyaInitiate_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response_code": "1001", "response_text": "invalid keys"})
	}))
	defer srv.Close()

	adapter := NewPayDunya(PayDunyaConfig{BaseURL: srv.URL, MasterKey: "mk"})
	_, err := adapter.Initiate(context.Background(), testIntent(t, "5000", "XOF"))
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestPayDunyaToCanonicalEvent(t *testing.T) {
	adapter := NewPayDunya(PayDunyaConfig{MasterKey: "mk"})

	cases := []struct {
		name    string
		payload string
		status  domain.EventStatus
		settled string
		details string
	}{
		{
			name:    "completed",
			payload: `{"data":{"status":"completed","invoice":{"token":"inv-1","total_amount":"5000","currency":"XOF"}}}`,
			status:  domain.EventSucceeded,
			settled: "5000 XOF",
		},
		{
			name:    "cancelled",
			payload: `{"data":{"status":"cancelled","invoice":{"token":"inv-1"},"fail_reason":"user abandoned"}}`,
			status:  domain.EventFailed,
			details: "user abandoned",
		},
		{
			name:    "expired",
			payload: `{"data":{"status":"expired","invoice":{"token":"inv-1"}}}`,
			status:  domain.EventExpired,
		},
		{
			name:    "pending",
			payload: `{"data":{"status":"pending","invoice":{"token":"inv-1"}}}`,
			status:  domain.EventProcessing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := adapter.ToCanonicalEvent([]byte(tc.payload))
			require.NoError(t, err)
			require.Equal(t, "paydunya", ev.Gateway)
			require.Equal(t, "inv-1", ev.ProviderReference)
			require.Equal(t, tc.status, ev.Status)
			require.Equal(t, tc.details, ev.ErrorDetails)
			if tc.settled != "" {
				require.NotNil(t, ev.SettledAmount)
				require.Equal(t, tc.settled, ev.SettledAmount.String())
			}
		})
	}

	_, err := adapter.ToCanonicalEvent([]byte(`{"data":{"status":"completed"}}`))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestPayDunyaVerifyInbound_EitherScheme(t *testing.T) {
	adapter := NewPayDunya(PayDunyaConfig{MasterKey: "mk", WebhookUser: "hook", WebhookPass: "pw"})
	payload := []byte(`{"data":{}}`)

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("hook:pw")))
	require.NoError(t, adapter.VerifyInbound(payload, header))

	header = http.Header{}
	header.Set("Authorization", "Bearer mk")
	require.NoError(t, adapter.VerifyInbound(payload, header))

	header = http.Header{}
	header.Set("Authorization", "Bearer stolen")
	require.ErrorIs(t, adapter.VerifyInbound(payload, header), domain.ErrAuthentication)
}

func TestPayDunyaPollStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout-invoice/confirm/inv-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "completed",
			"invoice": map[string]string{"total_amount": "5000", "currency": "XOF"},
		})
	}))
	defer srv.Close()

	adapter := NewPayDunya(PayDunyaConfig{BaseURL: srv.URL, MasterKey: "mk"})
	ev, err := adapter.PollStatus(context.Background(), "inv-1")
	require.NoError(t, err)
	require.Equal(t, "inv-1", ev.ProviderReference)
	require.Equal(t, domain.EventSucceeded, ev.Status)
	require.Equal(t, "5000 XOF", ev.SettledAmount.String())
}
