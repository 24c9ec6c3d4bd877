package domain

import "errors"

// Error taxonomy shared across the engine, stores and adapters. Handlers map
// these to HTTP codes at the edge; the engine matches them with errors.Is.
var (
	// ErrValidation covers malformed input rejected before it reaches the
	// state machine.
	ErrValidation = errors.New("validation failed")

	// ErrGatewayUnavailable is a transient transport failure talking to a
	// provider. Retryable.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrGatewayRejected is a permanent provider-side rejection. Not
	// retryable.
	ErrGatewayRejected = errors.New("gateway rejected request")

	// ErrAuthentication is a webhook signature or credential mismatch. The
	// call is rejected with no state change and never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound covers unknown session ids and provider references.
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition marks an event that does not apply to the
	// intent's current state. Absorbed as a no-op, never surfaced as a hard
	// failure on the webhook path.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrInsufficientBalance is the ledger-level guard on the withdrawal
	// path.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAdminApprovalRequired flags a withdrawal beyond the policy
	// threshold.
	ErrAdminApprovalRequired = errors.New("admin approval required")

	// ErrStale reports a conditional update that lost the race: another
	// delivery already advanced the intent.
	ErrStale = errors.New("stale status precondition")

	// ErrDuplicate reports a uniqueness violation on insert.
	ErrDuplicate = errors.New("duplicate record")
)
