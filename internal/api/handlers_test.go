package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/engine"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/money"
	"github.com/punchamoorthee/payrecon/internal/notify"
	"github.com/punchamoorthee/payrecon/internal/store"
)

const testIPNSecret = "cinetpay-ipn-secret"

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	registry := gateway.NewRegistry(gateway.NewCinetPay(gateway.CinetPayConfig{
		BaseURL: "http://cinetpay.invalid",
		Secret:  testIPNSecret,
	}))
	eng := engine.New(engine.Config{SettleTolerance: decimal.Zero}, mem, mem, registry, notify.Nop{}, nil)
	srv := httptest.NewServer(NewRouter(NewHandler(eng, mem)))
	t.Cleanup(srv.Close)
	return srv, eng, mem
}

// processingIntent seeds an intent already claimed by cinetpay so webhook
// deliveries can find it by provider reference.
func processingIntent(t *testing.T, eng *engine.Engine, mem *store.Memory) *domain.PaymentIntent {
	t.Helper()
	ctx := context.Background()
	amount, err := money.Parse("5000", "XOF")
	require.NoError(t, err)
	intent, err := eng.CreateIntent(ctx, "user-1", amount, nil)
	require.NoError(t, err)

	claimed := intent.Clone()
	claimed.Status = domain.StatusProcessing
	claimed.Gateway = "cinetpay"
	claimed.GatewayPaymentID = "CP-" + intent.SessionID
	require.NoError(t, mem.UpdateIfStatus(ctx, claimed, domain.StatusPendingUserInput))
	return claimed
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postJSON(t *testing.T, url string, body any, header http.Header) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateIntentHandler(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/payments", map[string]any{
		"user_id": "user-1", "amount": "5000", "currency": "XOF",
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created domain.PaymentIntent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.SessionID)
	require.Equal(t, domain.StatusPendingUserInput, created.Status)
}

func TestCreateIntentHandler_Invalid(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/payments", map[string]any{
		"user_id": "user-1", "amount": "five thousand", "currency": "XOF",
	}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Missing user id is a domain validation error.
	resp = postJSON(t, srv.URL+"/api/v1/payments", map[string]any{
		"amount": "5000", "currency": "XOF",
	}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetIntentHandler(t *testing.T) {
	srv, eng, mem := newTestServer(t)
	intent := processingIntent(t, eng, mem)

	resp, err := http.Get(srv.URL + "/api/v1/payments/" + intent.SessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.PaymentIntent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, intent.SessionID, got.SessionID)
	require.Equal(t, domain.StatusProcessing, got.Status)

	missing, err := http.Get(srv.URL + "/api/v1/payments/nope")
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestWebhookHandler_Accepted(t *testing.T) {
	srv, eng, mem := newTestServer(t)
	intent := processingIntent(t, eng, mem)

	body := []byte(`{"cpm_trans_id":"` + intent.GatewayPaymentID + `","cpm_trans_status":"ACCEPTED","cpm_amount":"5000","cpm_currency":"XOF"}`)
	header := http.Header{}
	header.Set("x-token", signBody(testIPNSecret, body))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/cinetpay", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header = header
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	current, err := eng.GetIntent(context.Background(), intent.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSucceeded, current.Status)
	require.Len(t, current.WebhookHistory, 1)

	txs, err := mem.ListTransactions(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	srv, eng, mem := newTestServer(t)
	intent := processingIntent(t, eng, mem)

	body := []byte(`{"cpm_trans_id":"` + intent.GatewayPaymentID + `","cpm_trans_status":"ACCEPTED"}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/cinetpay", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("x-token", signBody("wrong-secret", body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Rejected deliveries leave no trace on the intent.
	current, err := eng.GetIntent(context.Background(), intent.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, current.Status)
	require.Empty(t, current.WebhookHistory)
}

func TestWebhookHandler_UnknownReference(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := []byte(`{"cpm_trans_id":"CP-mystery","cpm_trans_status":"ACCEPTED"}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/cinetpay", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("x-token", signBody(testIPNSecret, body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookHandler_UnknownGateway(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/webhooks/stripe", map[string]string{}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWithdrawalHandler_InsufficientBalance(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/withdrawals", map[string]any{
		"user_id": "user-1", "amount": "100", "currency": "XOF",
	}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListTransactionsHandler(t *testing.T) {
	srv, eng, mem := newTestServer(t)
	intent := processingIntent(t, eng, mem)

	body := []byte(`{"cpm_trans_id":"` + intent.GatewayPaymentID + `","cpm_trans_status":"ACCEPTED","cpm_amount":"5000","cpm_currency":"XOF"}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/cinetpay", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("x-token", signBody(testIPNSecret, body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/v1/users/user-1/transactions")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var txs []domain.Transaction
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&txs))
	require.Len(t, txs, 1)
	require.Equal(t, domain.TxTypePayment, txs[0].Type)
}

func TestSoftDeleteHandler(t *testing.T) {
	srv, _, mem := newTestServer(t)
	amount, _ := money.Parse("5000", "XOF")
	_, err := mem.CreateIfNotExists(context.Background(), &domain.Transaction{
		TransactionID: "tx1",
		UserID:        "user-1",
		Type:          domain.TxTypePayment,
		Amount:        amount,
		Fee:           money.Zero("XOF"),
		Status:        domain.TxStatusCompleted,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/admin/transactions/tx1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = mem.GetTransaction(context.Background(), "tx1", false)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestForceSucceedHandler_Validation(t *testing.T) {
	srv, eng, mem := newTestServer(t)
	intent := processingIntent(t, eng, mem)

	// Note and actor are mandatory.
	resp := postJSON(t, srv.URL+"/api/v1/admin/payments/"+intent.SessionID+"/force-succeed", map[string]string{}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// PROCESSING cannot be forced.
	resp = postJSON(t, srv.URL+"/api/v1/admin/payments/"+intent.SessionID+"/force-succeed", map[string]string{
		"actor": "ops@example.com", "note": "checked dashboard",
	}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHealthHandler(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
