package queue

import (
	"errors"
	"fmt"
)

var (
	ErrClaimConflict          = errors.New("queue type is claimed by another teller")
	ErrNoActiveSession        = errors.New("teller has no active session")
	ErrNoCustomerAvailable    = errors.New("no customer waiting")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUndoUnavailable        = errors.New("no action to undo")
	ErrStoreUnavailable       = errors.New("store unavailable")

	ErrTicketNotFound   = errors.New("ticket not found")
	ErrInvalidQueueType = errors.New("invalid queue type")
	ErrInvalidTeller    = errors.New("teller id is required")
	ErrTellerAway       = errors.New("teller is away")
	ErrInvalidStatus    = errors.New("invalid teller status")
	ErrInvalidTicket    = errors.New("invalid ticket")

	// ErrPreconditionFailed is returned by repositories when a conditional
	// write finds the document in a different state than expected.
	ErrPreconditionFailed = errors.New("precondition failed")
)

var knownErrors = []error{
	ErrClaimConflict,
	ErrNoActiveSession,
	ErrNoCustomerAvailable,
	ErrConcurrentModification,
	ErrInvalidStateTransition,
	ErrUndoUnavailable,
	ErrStoreUnavailable,
	ErrTicketNotFound,
	ErrInvalidQueueType,
	ErrInvalidTeller,
	ErrTellerAway,
	ErrInvalidStatus,
	ErrInvalidTicket,
	ErrPreconditionFailed,
}

// storeFailure passes domain errors through and marks anything else coming
// out of a repository as ErrStoreUnavailable, keeping the cause in the chain.
func storeFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
