package engine

import (
	"fmt"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

// transition computes the next intent status for a canonical event. The
// second result is false when the event does not apply to the current state;
// such events are absorbed as no-ops, never re-applied.
//
// A same-state result (e.g. a "processing" event on a PROCESSING intent) is
// legal and carries no side effects beyond the history append.
func transition(current domain.IntentStatus, ev domain.EventStatus) (domain.IntentStatus, bool) {
	switch current {
	case domain.StatusPendingProvider:
		switch ev {
		case domain.EventPending:
			return domain.StatusPendingProvider, true
		case domain.EventProcessing:
			return domain.StatusProcessing, true
		case domain.EventSucceeded:
			return domain.StatusSucceeded, true
		case domain.EventFailed, domain.EventExpired:
			return domain.StatusFailed, true
		}
	case domain.StatusProcessing:
		switch ev {
		case domain.EventPending, domain.EventProcessing:
			return domain.StatusProcessing, true
		case domain.EventSucceeded:
			return domain.StatusSucceeded, true
		case domain.EventFailed, domain.EventExpired:
			return domain.StatusFailed, true
		}
	case domain.StatusWaitingForDeposit:
		switch ev {
		case domain.EventPending, domain.EventProcessing:
			return domain.StatusWaitingForDeposit, true
		case domain.EventPartial:
			// Amount accumulation may promote this to SUCCEEDED; the
			// engine decides after updating paidAmount.
			return domain.StatusPartiallyPaid, true
		case domain.EventSucceeded:
			return domain.StatusSucceeded, true
		case domain.EventFailed, domain.EventExpired:
			return domain.StatusFailed, true
		}
	case domain.StatusPartiallyPaid:
		switch ev {
		case domain.EventPending, domain.EventProcessing:
			return domain.StatusPartiallyPaid, true
		case domain.EventPartial:
			return domain.StatusPartiallyPaid, true
		case domain.EventSucceeded:
			return domain.StatusSucceeded, true
		case domain.EventFailed, domain.EventExpired:
			return domain.StatusFailed, true
		}
	}
	// PENDING_USER_INPUT has no provider yet; SUCCEEDED, FAILED and ERROR
	// accept no natural events.
	return current, false
}

// resetTransition guards the explicit admin reset operation.
func resetTransition(current domain.IntentStatus) (domain.IntentStatus, error) {
	if current != domain.StatusError {
		return current, fmt.Errorf("%w: cannot reset from %s", domain.ErrIllegalTransition, current)
	}
	return domain.StatusPendingUserInput, nil
}

// forceTransition guards the audited admin force-succeed operation.
func forceTransition(current domain.IntentStatus) (domain.IntentStatus, error) {
	switch current {
	case domain.StatusSucceeded:
		return current, fmt.Errorf("%w: already succeeded", domain.ErrIllegalTransition)
	case domain.StatusFailed, domain.StatusError:
		return domain.StatusSucceeded, nil
	default:
		return current, fmt.Errorf("%w: force-succeed requires FAILED or ERROR, have %s", domain.ErrIllegalTransition, current)
	}
}
