package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/engine"
	"github.com/punchamoorthee/payrecon/internal/money"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Inbound webhook deliveries by gateway and result",
	}, []string{"gateway", "result"})
)

// LedgerReader is the read/correction surface the admin endpoints need.
type LedgerReader interface {
	GetTransaction(ctx context.Context, id string, includeDeleted bool) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, userID string, includeDeleted bool) ([]*domain.Transaction, error)
	SoftDelete(ctx context.Context, id string) error
}

type Handler struct {
	engine *engine.Engine
	ledger LedgerReader
}

func NewHandler(e *engine.Engine, ledger LedgerReader) *Handler {
	return &Handler{engine: e, ledger: ledger}
}

// NewRouter wires all routes, including /health and /metrics.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	r.HandleFunc("/webhooks/{gateway}", h.WebhookHandler).Methods("POST")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/payments", h.CreateIntentHandler).Methods("POST")
	apiV1.HandleFunc("/payments/{sessionID}", h.GetIntentHandler).Methods("GET")
	apiV1.HandleFunc("/payments/{sessionID}/submit", h.SubmitHandler).Methods("POST")
	apiV1.HandleFunc("/withdrawals", h.RequestWithdrawalHandler).Methods("POST")
	apiV1.HandleFunc("/users/{userID}/transactions", h.ListTransactionsHandler).Methods("GET")

	admin := apiV1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/payments/{sessionID}/force-succeed", h.ForceSucceedHandler).Methods("POST")
	admin.HandleFunc("/payments/{sessionID}/reset", h.ResetHandler).Methods("POST")
	admin.HandleFunc("/withdrawals/{transactionID}/complete", h.CompleteWithdrawalHandler).Methods("POST")
	admin.HandleFunc("/transactions/{transactionID}", h.SoftDeleteHandler).Methods("DELETE")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createIntentRequest struct {
	UserID   string            `json:"user_id"`
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) CreateIntentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payments")
		return
	}
	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid amount", "POST", "/payments")
		return
	}
	intent, err := h.engine.CreateIntent(r.Context(), req.UserID, amount, req.Metadata)
	if err != nil {
		h.respondEngineError(w, err, "POST", "/payments")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/payments", "201").Inc()
	respondWithJSON(w, http.StatusCreated, intent)
}

func (h *Handler) GetIntentHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	intent, err := h.engine.GetIntent(r.Context(), sessionID)
	if err != nil {
		h.respondEngineError(w, err, "GET", "/payments/{sessionID}")
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/payments/{sessionID}", "200").Inc()
	respondWithJSON(w, http.StatusOK, intent)
}

type submitRequest struct {
	Gateway string `json:"gateway"`
}

type submitResponse struct {
	SessionID         string       `json:"session_id"`
	CheckoutURL       string       `json:"checkout_url,omitempty"`
	DepositAddress    string       `json:"deposit_address,omitempty"`
	ProviderReference string       `json:"provider_reference"`
	PayAmount         *money.Money `json:"pay_amount,omitempty"`
}

func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments/{sessionID}/submit"))
	defer timer.ObserveDuration()

	sessionID := mux.Vars(r)["sessionID"]
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payments/{sessionID}/submit")
		return
	}
	checkout, err := h.engine.SubmitPaymentDetails(r.Context(), sessionID, req.Gateway)
	if err != nil {
		h.respondEngineError(w, err, "POST", "/payments/{sessionID}/submit")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/payments/{sessionID}/submit", "200").Inc()
	respondWithJSON(w, http.StatusOK, submitResponse{
		SessionID:         sessionID,
		CheckoutURL:       checkout.Target,
		DepositAddress:    checkout.DepositAddress,
		ProviderReference: checkout.ProviderReference,
		PayAmount:         checkout.PayAmount,
	})
}

// WebhookHandler is the push entry point for provider notifications. An
// authentication failure yields 401 with no state change; an unknown
// reference yields 404 so the provider retries later.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	gw := mux.Vars(r)["gateway"]
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		webhooksTotal.WithLabelValues(gw, "read_error").Inc()
		h.respondError(w, http.StatusBadRequest, "Stream read error", "POST", "/webhooks/{gateway}")
		return
	}
	if err := h.engine.HandleWebhook(r.Context(), gw, body, r.Header); err != nil {
		switch {
		case errors.Is(err, domain.ErrAuthentication):
			webhooksTotal.WithLabelValues(gw, "unauthorized").Inc()
			h.respondError(w, http.StatusUnauthorized, "Invalid signature", "POST", "/webhooks/{gateway}")
		case errors.Is(err, domain.ErrNotFound):
			webhooksTotal.WithLabelValues(gw, "unknown_reference").Inc()
			h.respondError(w, http.StatusNotFound, "Unknown payment reference", "POST", "/webhooks/{gateway}")
		case errors.Is(err, domain.ErrValidation):
			webhooksTotal.WithLabelValues(gw, "malformed").Inc()
			h.respondError(w, http.StatusBadRequest, "Malformed payload", "POST", "/webhooks/{gateway}")
		default:
			webhooksTotal.WithLabelValues(gw, "error").Inc()
			h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/webhooks/{gateway}")
		}
		return
	}
	webhooksTotal.WithLabelValues(gw, "accepted").Inc()
	httpRequestsTotal.WithLabelValues("POST", "/webhooks/{gateway}", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type withdrawalRequest struct {
	UserID   string `json:"user_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (h *Handler) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/withdrawals")
		return
	}
	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid amount", "POST", "/withdrawals")
		return
	}
	tx, err := h.engine.RequestWithdrawal(r.Context(), req.UserID, amount)
	if err != nil {
		h.respondEngineError(w, err, "POST", "/withdrawals")
		return
	}
	code := http.StatusCreated
	if tx.Status == domain.TxStatusPendingAdminApproval {
		code = http.StatusAccepted
	}
	httpRequestsTotal.WithLabelValues("POST", "/withdrawals", strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, tx)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	txs, err := h.ledger.ListTransactions(r.Context(), userID, includeDeleted)
	if err != nil {
		h.respondEngineError(w, err, "GET", "/users/{userID}/transactions")
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/users/{userID}/transactions", "200").Inc()
	respondWithJSON(w, http.StatusOK, txs)
}

type forceSucceedRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (h *Handler) ForceSucceedHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	var req forceSucceedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/admin/payments/{sessionID}/force-succeed")
		return
	}
	if err := h.engine.ForceSucceed(r.Context(), sessionID, req.Actor, req.Note); err != nil {
		h.respondEngineError(w, err, "POST", "/admin/payments/{sessionID}/force-succeed")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/admin/payments/{sessionID}/force-succeed", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	if err := h.engine.ResetFromError(r.Context(), sessionID); err != nil {
		h.respondEngineError(w, err, "POST", "/admin/payments/{sessionID}/reset")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/admin/payments/{sessionID}/reset", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) CompleteWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["transactionID"]
	if err := h.engine.CompleteWithdrawal(r.Context(), transactionID); err != nil {
		h.respondEngineError(w, err, "POST", "/admin/withdrawals/{transactionID}/complete")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/admin/withdrawals/{transactionID}/complete", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) SoftDeleteHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["transactionID"]
	if err := h.ledger.SoftDelete(r.Context(), transactionID); err != nil {
		h.respondEngineError(w, err, "DELETE", "/admin/transactions/{transactionID}")
		return
	}
	httpRequestsTotal.WithLabelValues("DELETE", "/admin/transactions/{transactionID}", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// respondEngineError maps the domain error taxonomy to HTTP codes.
func (h *Handler) respondEngineError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "Not found", method, endpoint)
	case errors.Is(err, domain.ErrValidation):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrIllegalTransition):
		h.respondError(w, http.StatusConflict, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrStale), errors.Is(err, domain.ErrDuplicate):
		h.respondError(w, http.StatusConflict, "Concurrent update, retry", method, endpoint)
	case errors.Is(err, domain.ErrInsufficientBalance):
		h.respondError(w, http.StatusUnprocessableEntity, "Insufficient balance", method, endpoint)
	case errors.Is(err, domain.ErrAdminApprovalRequired):
		h.respondError(w, http.StatusForbidden, "Admin approval required", method, endpoint)
	case errors.Is(err, domain.ErrGatewayRejected):
		h.respondError(w, http.StatusUnprocessableEntity, "Payment provider rejected the request", method, endpoint)
	case errors.Is(err, domain.ErrGatewayUnavailable):
		h.respondError(w, http.StatusBadGateway, "Payment provider unavailable", method, endpoint)
	default:
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, map[string]string{"error": msg})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
