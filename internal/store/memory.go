package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/money"
)

// Memory is an in-process store keeping intents and ledger rows in maps. It
// implements the same contracts as the Postgres store and backs tests and
// local development (-memory flag on the api binary).
type Memory struct {
	mu      sync.RWMutex
	intents map[string]*domain.PaymentIntent // by session id
	byRef   map[string]string                // gateway|providerRef -> session id
	ledger  map[string]*domain.Transaction   // by transaction id
	txOrder []string
	nowFn   func() time.Time
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		intents: make(map[string]*domain.PaymentIntent),
		byRef:   make(map[string]string),
		ledger:  make(map[string]*domain.Transaction),
		nowFn:   time.Now,
	}
}

// SetClock overrides the timestamp source for tests.
func (m *Memory) SetClock(now func() time.Time) { m.nowFn = now }

func refKey(gateway, ref string) string { return gateway + "|" + ref }

// CreateIntent stores a new intent, rejecting duplicate session ids.
func (m *Memory) CreateIntent(_ context.Context, intent *domain.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.SessionID]; ok {
		return fmt.Errorf("%w: session %s", domain.ErrDuplicate, intent.SessionID)
	}
	m.intents[intent.SessionID] = intent.Clone()
	return nil
}

// GetBySession returns a copy of the intent for the session id.
func (m *Memory) GetBySession(_ context.Context, sessionID string) (*domain.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intent, ok := m.intents[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return intent.Clone(), nil
}

// GetByProviderRef resolves the reconciliation lookup key.
func (m *Memory) GetByProviderRef(_ context.Context, gateway, providerRef string) (*domain.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessionID, ok := m.byRef[refKey(gateway, providerRef)]
	if !ok {
		return nil, fmt.Errorf("%w: %s payment %s", domain.ErrNotFound, gateway, providerRef)
	}
	return m.intents[sessionID].Clone(), nil
}

// UpdateIfStatus persists the intent only when the stored status still equals
// expect; otherwise domain.ErrStale. This conditional write linearizes all
// transitions for one intent.
func (m *Memory) UpdateIfStatus(_ context.Context, intent *domain.PaymentIntent, expect domain.IntentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.intents[intent.SessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, intent.SessionID)
	}
	if current.Status != expect {
		return fmt.Errorf("%w: have %s, expected %s", domain.ErrStale, current.Status, expect)
	}
	if intent.Gateway != "" && intent.GatewayPaymentID != "" {
		key := refKey(intent.Gateway, intent.GatewayPaymentID)
		if owner, claimed := m.byRef[key]; claimed && owner != intent.SessionID {
			return fmt.Errorf("%w: provider reference %s", domain.ErrDuplicate, intent.GatewayPaymentID)
		}
		m.byRef[key] = intent.SessionID
	}
	if current.GatewayPaymentID != "" {
		// A cleared or replaced reference must stop resolving, matching the
		// SQL store nulling gateway_payment_id.
		old := refKey(current.Gateway, current.GatewayPaymentID)
		if intent.Gateway == "" || intent.GatewayPaymentID == "" || refKey(intent.Gateway, intent.GatewayPaymentID) != old {
			delete(m.byRef, old)
		}
	}
	dup := intent.Clone()
	dup.WebhookHistory = current.WebhookHistory // history is append-only via AppendWebhook
	dup.UpdatedAt = m.nowFn()
	m.intents[intent.SessionID] = dup
	return nil
}

// AppendWebhook adds one record to the intent's delivery history.
func (m *Memory) AppendWebhook(_ context.Context, sessionID string, rec domain.WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	intent.WebhookHistory = append(intent.WebhookHistory, rec)
	return nil
}

// ListStuck returns intents sitting in one of the given states since before
// cutoff, oldest first, capped at limit.
func (m *Memory) ListStuck(_ context.Context, statuses []domain.IntentStatus, cutoff time.Time, limit int) ([]*domain.PaymentIntent, error) {
	wanted := make(map[domain.IntentStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.PaymentIntent
	for _, intent := range m.intents {
		if wanted[intent.Status] && intent.UpdatedAt.Before(cutoff) {
			out = append(out, intent.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateIfNotExists inserts a ledger row keyed by transaction id, reporting
// whether the row was created. Replayed writes are no-ops.
func (m *Memory) CreateIfNotExists(_ context.Context, tx *domain.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledger[tx.TransactionID]; ok {
		return false, nil
	}
	dup := *tx
	m.ledger[tx.TransactionID] = &dup
	m.txOrder = append(m.txOrder, tx.TransactionID)
	return true, nil
}

// GetTransaction returns a ledger row by id, excluding soft-deleted rows
// unless includeDeleted is set.
func (m *Memory) GetTransaction(_ context.Context, id string, includeDeleted bool) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.ledger[id]
	if !ok || (tx.Deleted && !includeDeleted) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	dup := *tx
	return &dup, nil
}

// ListTransactions returns a user's ledger rows in insertion order. Deleted
// rows are excluded by default.
func (m *Memory) ListTransactions(_ context.Context, userID string, includeDeleted bool) ([]*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Transaction
	for _, id := range m.txOrder {
		tx := m.ledger[id]
		if tx.UserID != userID {
			continue
		}
		if tx.Deleted && !includeDeleted {
			continue
		}
		dup := *tx
		out = append(out, &dup)
	}
	return out, nil
}

// UpdateTransactionStatus moves a ledger row along its status graph.
func (m *Memory) UpdateTransactionStatus(_ context.Context, id string, to domain.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.ledger[id]
	if !ok || tx.Deleted {
		return fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	if !tx.Status.CanTransition(to) {
		return fmt.Errorf("%w: transaction %s -> %s", domain.ErrIllegalTransition, tx.Status, to)
	}
	tx.Status = to
	tx.UpdatedAt = m.nowFn()
	return nil
}

// SoftDelete flags a ledger row as deleted. The row never re-enters balance
// computations.
func (m *Memory) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.ledger[id]
	if !ok || tx.Deleted {
		return fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	now := m.nowFn()
	tx.Deleted = true
	tx.DeletedAt = &now
	return nil
}

// Balance sums a user's completed, non-deleted ledger amounts in the given
// currency.
func (m *Memory) Balance(_ context.Context, userID, currency string) (money.Money, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := money.Zero(currency)
	for _, tx := range m.ledger {
		if tx.UserID != userID || tx.Deleted || tx.Status != domain.TxStatusCompleted {
			continue
		}
		if tx.Amount.Currency() != currency {
			continue
		}
		sum, err := total.Add(tx.Amount)
		if err != nil {
			return money.Money{}, err
		}
		total = sum
	}
	return total, nil
}
