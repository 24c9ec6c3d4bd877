package gateway

import (
	"context"
	"net/http"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/money"
)

// Checkout is the result of initiating a payment with a provider. Exactly one
// of Target (hosted checkout URL) or DepositAddress (on-chain address) is set
// depending on the settlement style.
type Checkout struct {
	Target            string
	DepositAddress    string
	ProviderReference string
	// PayAmount is set when the payer must send a different currency than
	// the intent currency, e.g. a crypto estimate for a fiat price.
	PayAmount *money.Money
}

// Adapter is the capability contract every payment provider integration
// implements. VerifyInbound and ToCanonicalEvent are pure; Initiate and
// PollStatus perform network calls and honour ctx cancellation.
type Adapter interface {
	// Name is the stable registry key, also stored on the intent.
	Name() string

	// Initiate asks the provider to open a payment for the intent. Fails
	// with domain.ErrGatewayUnavailable on transport failure and
	// domain.ErrGatewayRejected on provider-side validation failure.
	Initiate(ctx context.Context, intent *domain.PaymentIntent) (*Checkout, error)

	// VerifyInbound authenticates a webhook delivery. It must compare
	// secrets in constant time and return domain.ErrAuthentication on
	// mismatch without logging the secret.
	VerifyInbound(payload []byte, header http.Header) error

	// ToCanonicalEvent maps a provider payload to the canonical vocabulary.
	// Pure, no side effects.
	ToCanonicalEvent(payload []byte) (*domain.Event, error)

	// PollStatus fetches the provider's authoritative view of a payment.
	// Idempotent and safe to call repeatedly; used by the sweep path.
	PollStatus(ctx context.Context, providerReference string) (*domain.Event, error)
}

// Registry resolves adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry indexes the given adapters by Name.
func NewRegistry(adapters ...Adapter) *Registry {
	idx := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		idx[a.Name()] = a
	}
	return &Registry{adapters: idx}
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists the registered adapter names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
