package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/money"
)

// ledgerNamespace derives deterministic ledger transaction ids from session
// ids, so a retried finalize lands on the same row and the
// create-if-not-exists write stays idempotent.
var ledgerNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// IntentStore is the conditional-update persistence contract for intents.
// The engine is the only writer of status, paidAmount and gatewayPaymentId.
type IntentStore interface {
	CreateIntent(ctx context.Context, intent *domain.PaymentIntent) error
	GetBySession(ctx context.Context, sessionID string) (*domain.PaymentIntent, error)
	GetByProviderRef(ctx context.Context, gateway, providerRef string) (*domain.PaymentIntent, error)
	UpdateIfStatus(ctx context.Context, intent *domain.PaymentIntent, expect domain.IntentStatus) error
	AppendWebhook(ctx context.Context, sessionID string, rec domain.WebhookRecord) error
	ListStuck(ctx context.Context, statuses []domain.IntentStatus, cutoff time.Time, limit int) ([]*domain.PaymentIntent, error)
}

// LedgerStore accepts idempotent ledger writes and balance reads.
type LedgerStore interface {
	CreateIfNotExists(ctx context.Context, tx *domain.Transaction) (bool, error)
	GetTransaction(ctx context.Context, id string, includeDeleted bool) (*domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, to domain.TransactionStatus) error
	Balance(ctx context.Context, userID, currency string) (money.Money, error)
}

// Notifier delivers the terminal result to the originating business service.
// Implementations are expected to be idempotent on session id.
type Notifier interface {
	OnPaymentCompleted(ctx context.Context, intent *domain.PaymentIntent) error
}

// Config tunes engine behaviour.
type Config struct {
	// SettleTolerance is the epsilon under the crypto pay amount still
	// accepted as full settlement, absorbing network fee deduction.
	SettleTolerance decimal.Decimal
	// MaxAttempts bounds retries of transient gateway failures.
	MaxAttempts uint
	// RetryInitial seeds the exponential backoff between attempts.
	RetryInitial time.Duration
	// NotifyTimeout bounds the outbound completion call.
	NotifyTimeout time.Duration
	// WithdrawalApprovalLimit is the per-request amount above which a
	// withdrawal parks in pending_admin_approval.
	WithdrawalApprovalLimit decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	return c
}

// Engine is the reconciliation core: it drives the intent state machine from
// canonical gateway events, keeps the ledger consistent with terminal states
// and invokes the completion notifier exactly once per success.
type Engine struct {
	cfg      Config
	intents  IntentStore
	ledger   LedgerStore
	registry *gateway.Registry
	notifier Notifier
	logger   *slog.Logger
	clock    func() time.Time
}

// New wires an Engine. A nil logger falls back to slog.Default.
func New(cfg Config, intents IntentStore, ledger LedgerStore, registry *gateway.Registry, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		intents:  intents,
		ledger:   ledger,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		clock:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (e *Engine) SetClock(now func() time.Time) { e.clock = now }

// CreateIntent opens a new payment attempt in PENDING_USER_INPUT.
func (e *Engine) CreateIntent(ctx context.Context, userID string, amount money.Money, metadata map[string]string) (*domain.PaymentIntent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	now := e.clock()
	intent := &domain.PaymentIntent{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Status:    domain.StatusPendingUserInput,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.intents.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}
	e.logger.Info("intent created", "session_id", intent.SessionID, "user_id", userID, "amount", amount.String())
	return intent, nil
}

// GetIntent returns the current intent record for a session.
func (e *Engine) GetIntent(ctx context.Context, sessionID string) (*domain.PaymentIntent, error) {
	return e.intents.GetBySession(ctx, sessionID)
}

// SubmitPaymentDetails chooses a provider for the intent and asks its adapter
// to initiate. The intent is claimed with a conditional update before the
// network call so concurrent submissions race safely.
func (e *Engine) SubmitPaymentDetails(ctx context.Context, sessionID, gatewayName string) (*gateway.Checkout, error) {
	adapter, ok := e.registry.Get(gatewayName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown gateway %q", domain.ErrValidation, gatewayName)
	}
	intent, err := e.intents.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.StatusPendingUserInput {
		return nil, fmt.Errorf("%w: submit requires PENDING_USER_INPUT, have %s", domain.ErrIllegalTransition, intent.Status)
	}

	claimed := intent.Clone()
	claimed.Status = domain.StatusPendingProvider
	claimed.Gateway = adapter.Name()
	if err := e.intents.UpdateIfStatus(ctx, claimed, domain.StatusPendingUserInput); err != nil {
		return nil, err
	}
	e.countTransition(domain.StatusPendingUserInput, domain.StatusPendingProvider)

	var checkout *gateway.Checkout
	err = e.withRetry(ctx, func() error {
		var initErr error
		checkout, initErr = adapter.Initiate(ctx, claimed)
		return initErr
	})
	if err != nil {
		e.moveToError(ctx, claimed, fmt.Sprintf("initiation failed: %v", err))
		return nil, err
	}

	initiated := claimed.Clone()
	initiated.GatewayPaymentID = checkout.ProviderReference
	if checkout.DepositAddress != "" {
		initiated.Status = domain.StatusWaitingForDeposit
		initiated.CryptoAddress = checkout.DepositAddress
		initiated.PayAmount = checkout.PayAmount
		paid := money.Zero(checkout.PayAmount.Currency())
		initiated.PaidAmount = &paid
	} else {
		initiated.Status = domain.StatusProcessing
	}
	if err := e.intents.UpdateIfStatus(ctx, initiated, domain.StatusPendingProvider); err != nil {
		return nil, err
	}
	e.countTransition(domain.StatusPendingProvider, initiated.Status)
	e.logger.Info("intent initiated",
		"session_id", sessionID, "gateway", adapter.Name(),
		"provider_ref", checkout.ProviderReference, "status", string(initiated.Status))
	return checkout, nil
}

// HandleWebhook is the push reconciliation path: authenticate, map to the
// canonical vocabulary, and apply.
func (e *Engine) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, header http.Header) error {
	adapter, ok := e.registry.Get(gatewayName)
	if !ok {
		return fmt.Errorf("%w: unknown gateway %q", domain.ErrNotFound, gatewayName)
	}
	if err := adapter.VerifyInbound(payload, header); err != nil {
		// No state change and no payload echo; the signature itself is
		// never logged.
		e.logger.Warn("webhook rejected", "gateway", gatewayName)
		return err
	}
	ev, err := adapter.ToCanonicalEvent(payload)
	if err != nil {
		return err
	}
	return e.Apply(ctx, ev)
}

// Apply feeds one canonical event through the transition function. Both the
// webhook path and the sweep converge here; replays become no-ops because
// the conditional update is keyed on the observed status.
func (e *Engine) Apply(ctx context.Context, ev *domain.Event) error {
	intent, err := e.intents.GetByProviderRef(ctx, ev.Gateway, ev.ProviderReference)
	if err != nil {
		return err
	}

	// Every verified delivery lands in the audit history, including the
	// ones absorbed below.
	rec := domain.WebhookRecord{
		ReceivedAt:     e.clock(),
		Gateway:        ev.Gateway,
		ReportedStatus: string(ev.Status),
		Payload:        ev.Raw,
	}
	if err := e.intents.AppendWebhook(ctx, intent.SessionID, rec); err != nil {
		return err
	}

	next, ok := transition(intent.Status, ev.Status)
	if !ok {
		absorbedEventsTotal.WithLabelValues(ev.Gateway, "illegal").Inc()
		e.logger.Info("event absorbed",
			"session_id", intent.SessionID, "status", string(intent.Status), "event", string(ev.Status))
		if intent.Status == domain.StatusSucceeded && ev.Status == domain.EventSucceeded {
			// Replayed success: re-run the idempotent finalize so a crash
			// between the status write and the ledger write self-heals.
			return e.finalize(ctx, intent)
		}
		return nil
	}

	updated := intent.Clone()
	updated.Status = next
	if ev.ErrorDetails != "" && next == domain.StatusFailed {
		updated.FailureReason = ev.ErrorDetails
	}
	if err := e.applySettlement(updated, ev); err != nil {
		return err
	}
	// Accumulated deposits may promote a partial event to full settlement.
	if updated.Status == domain.StatusPartiallyPaid {
		covered, err := e.settled(updated)
		if err != nil {
			return err
		}
		if covered {
			updated.Status = domain.StatusSucceeded
		}
	}

	if intent.Status == updated.Status && intent.Paid().Equal(updated.Paid()) {
		return nil // same-state event, history already appended
	}

	if err := e.intents.UpdateIfStatus(ctx, updated, intent.Status); err != nil {
		if errors.Is(err, domain.ErrStale) {
			absorbedEventsTotal.WithLabelValues(ev.Gateway, "stale").Inc()
			e.logger.Info("event lost conditional update race", "session_id", intent.SessionID)
			return nil
		}
		return err
	}
	e.countTransition(intent.Status, updated.Status)
	e.logger.Info("intent transitioned",
		"session_id", intent.SessionID,
		"from", string(intent.Status), "to", string(updated.Status))

	if updated.Status == domain.StatusSucceeded {
		return e.finalize(ctx, updated)
	}
	return nil
}

// applySettlement folds the event's settled amount into the intent. Events
// carry the provider's running total, never a per-deposit delta, so the merge
// keeps the larger of the stored and reported totals: paidAmount only ever
// grows and a replayed delivery lands on the amount it already produced.
func (e *Engine) applySettlement(intent *domain.PaymentIntent, ev *domain.Event) error {
	if ev.SettledAmount == nil {
		return nil
	}
	switch ev.Status {
	case domain.EventPartial:
		total := *ev.SettledAmount
		if !total.IsPositive() {
			return fmt.Errorf("%w: settled total must be positive", domain.ErrValidation)
		}
		gte, err := intent.Paid().GTE(total)
		if err != nil {
			return err
		}
		if gte {
			total = intent.Paid()
		}
		intent.PaidAmount = &total
	case domain.EventSucceeded:
		paid := *ev.SettledAmount
		if prev := intent.Paid(); prev.Currency() == paid.Currency() {
			if gte, err := prev.GTE(paid); err == nil && gte {
				paid = prev
			}
		}
		intent.PaidAmount = &paid
	}
	return nil
}

// settled reports whether accumulated deposits cover the pay amount within
// the configured tolerance.
func (e *Engine) settled(intent *domain.PaymentIntent) (bool, error) {
	if intent.PayAmount == nil {
		return false, nil
	}
	return intent.Paid().CoversWithin(*intent.PayAmount, e.cfg.SettleTolerance)
}

// finalize bridges a successful intent to the ledger and fires the
// completion notifier. The deterministic transaction id plus the
// create-if-not-exists write make this safe to call any number of times;
// the notifier fires only on the call that actually created the row.
func (e *Engine) finalize(ctx context.Context, intent *domain.PaymentIntent) error {
	now := e.clock()
	tx := &domain.Transaction{
		TransactionID: uuid.NewSHA1(ledgerNamespace, []byte(intent.SessionID)).String(),
		UserID:        intent.UserID,
		Type:          domain.TxTypePayment,
		Amount:        intent.Amount,
		Fee:           money.Zero(intent.Amount.Currency()),
		Status:        domain.TxStatusCompleted,
		Description:   "payment " + intent.SessionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := e.ledger.CreateIfNotExists(ctx, tx)
	if err != nil {
		ledgerWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ledger write for %s: %w", intent.SessionID, err)
	}
	if !created {
		ledgerWritesTotal.WithLabelValues("replayed").Inc()
		return nil
	}
	ledgerWritesTotal.WithLabelValues("created").Inc()

	notifyCtx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
	defer cancel()
	if err := e.notifier.OnPaymentCompleted(notifyCtx, intent); err != nil {
		// The intent is already SUCCEEDED and the ledger row exists;
		// delivery failure is reported, not rolled back.
		notificationsTotal.WithLabelValues("error").Inc()
		e.logger.Error("completion notification failed", "session_id", intent.SessionID, "err", err)
		return nil
	}
	notificationsTotal.WithLabelValues("delivered").Inc()
	return nil
}

// ForceSucceed is the audited admin recovery path: it moves a FAILED or
// ERROR intent to SUCCEEDED through the normal finalize pipeline. The note
// and actor are mandatory and stored on the intent.
func (e *Engine) ForceSucceed(ctx context.Context, sessionID, actor, note string) error {
	if actor == "" || note == "" {
		return fmt.Errorf("%w: force-succeed requires actor and note", domain.ErrValidation)
	}
	intent, err := e.intents.GetBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	next, err := forceTransition(intent.Status)
	if err != nil {
		return err
	}
	updated := intent.Clone()
	updated.Status = next
	if updated.Metadata == nil {
		updated.Metadata = make(map[string]string)
	}
	updated.Metadata["admin_note"] = note
	updated.Metadata["admin_actor"] = actor
	updated.Metadata["admin_forced_at"] = e.clock().UTC().Format(time.RFC3339)
	if err := e.intents.UpdateIfStatus(ctx, updated, intent.Status); err != nil {
		return err
	}
	e.countTransition(intent.Status, updated.Status)
	e.logger.Warn("intent force-succeeded", "session_id", sessionID, "actor", actor)
	return e.finalize(ctx, updated)
}

// ResetFromError returns an ERROR intent to PENDING_USER_INPUT so the user
// can retry with a fresh provider selection.
func (e *Engine) ResetFromError(ctx context.Context, sessionID string) error {
	intent, err := e.intents.GetBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	next, err := resetTransition(intent.Status)
	if err != nil {
		return err
	}
	updated := intent.Clone()
	updated.Status = next
	updated.Gateway = ""
	updated.GatewayPaymentID = ""
	updated.FailureReason = ""
	if err := e.intents.UpdateIfStatus(ctx, updated, intent.Status); err != nil {
		return err
	}
	e.countTransition(intent.Status, next)
	e.logger.Info("intent reset", "session_id", sessionID)
	return nil
}

// RequestWithdrawal opens a withdrawal ledger entry for the user. Amounts
// beyond the approval limit park in pending_admin_approval; amounts beyond
// the user's completed balance are rejected.
func (e *Engine) RequestWithdrawal(ctx context.Context, userID string, amount money.Money) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", domain.ErrValidation)
	}
	balance, err := e.ledger.Balance(ctx, userID, amount.Currency())
	if err != nil {
		return nil, err
	}
	if covered, err := balance.GTE(amount); err != nil || !covered {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientBalance, balance, amount)
	}
	status := domain.TxStatusPending
	if !e.cfg.WithdrawalApprovalLimit.IsZero() && amount.Amount().GreaterThan(e.cfg.WithdrawalApprovalLimit) {
		status = domain.TxStatusPendingAdminApproval
	}
	now := e.clock()
	tx := &domain.Transaction{
		TransactionID: uuid.NewString(),
		UserID:        userID,
		Type:          domain.TxTypeWithdrawal,
		Amount:        amount.Neg(),
		Fee:           money.Zero(amount.Currency()),
		Status:        status,
		Description:   "withdrawal request",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := e.ledger.CreateIfNotExists(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// CompleteWithdrawal settles a pending withdrawal. Entries parked for admin
// approval must be approved first.
func (e *Engine) CompleteWithdrawal(ctx context.Context, transactionID string) error {
	tx, err := e.ledger.GetTransaction(ctx, transactionID, false)
	if err != nil {
		return err
	}
	if tx.Status == domain.TxStatusPendingAdminApproval {
		return fmt.Errorf("%w: transaction %s", domain.ErrAdminApprovalRequired, transactionID)
	}
	if tx.Status == domain.TxStatusPending {
		if err := e.ledger.UpdateTransactionStatus(ctx, transactionID, domain.TxStatusProcessing); err != nil {
			return err
		}
	}
	return e.ledger.UpdateTransactionStatus(ctx, transactionID, domain.TxStatusCompleted)
}

// moveToError parks the intent in the recoverable ERROR state with a
// human-readable reason. Best effort: a conditional-update miss here means
// an event arrived in the meantime and took precedence.
func (e *Engine) moveToError(ctx context.Context, intent *domain.PaymentIntent, reason string) {
	errored := intent.Clone()
	errored.Status = domain.StatusError
	errored.FailureReason = reason
	if err := e.intents.UpdateIfStatus(ctx, errored, intent.Status); err != nil {
		e.logger.Warn("could not park intent in ERROR", "session_id", intent.SessionID, "err", err)
		return
	}
	e.countTransition(intent.Status, domain.StatusError)
}

func (e *Engine) countTransition(from, to domain.IntentStatus) {
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}
