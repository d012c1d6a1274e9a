package queue

import (
	"context"
	"time"
)

type TicketFilter struct {
	QueueType *string
	State     *string
	Limit     int
	Offset    int
}

// TicketRepository is the persistence contract for tickets. Implementations
// must apply UpdateIf as a single conditional write.
type TicketRepository interface {
	Create(ctx context.Context, t *Ticket) error
	FindByID(ctx context.Context, id TicketID) (*Ticket, error)
	// NextWaiting returns the first waiting ticket of queueType in service
	// order, or nil when the queue is empty.
	NextWaiting(ctx context.Context, queueType string) (*Ticket, error)
	// UpdateIf applies u only if the ticket matches cond. It returns
	// ErrPreconditionFailed when it does not and ErrTicketNotFound when the
	// ticket does not exist.
	UpdateIf(ctx context.Context, id TicketID, cond TicketCondition, u TicketUpdate) (*Ticket, error)
	CountWaiting(ctx context.Context, queueType string) (int64, error)
	List(ctx context.Context, filter TicketFilter) ([]Ticket, error)
}

// SessionRepository is the persistence contract for teller sessions. The
// store, not the caller, guarantees that at most one active session holds a
// queue type.
type SessionRepository interface {
	Find(ctx context.Context, tellerID string) (*TellerSession, error)
	// Claim makes s the teller's active session for s.QueueType. It returns
	// ErrClaimConflict when another active session holds that queue type.
	Claim(ctx context.Context, s *TellerSession) error
	// DeactivateStale deactivates the active holder of queueType if its last
	// heartbeat is before cutoff.
	DeactivateStale(ctx context.Context, queueType string, cutoff time.Time) (bool, error)
	// Touch refreshes the heartbeat of an active session or returns ErrNoActiveSession.
	Touch(ctx context.Context, tellerID string, at time.Time) error
	// Deactivate ends the teller's claim. It is a no-op without a session.
	Deactivate(ctx context.Context, tellerID string) error
	SetStatus(ctx context.Context, tellerID, status string) error
	ListActive(ctx context.Context) ([]TellerSession, error)
	SetLastAction(ctx context.Context, tellerID string, action LastAction) error
	// TakeLastAction clears the undo slot if it still refers to ticketID and
	// reports whether it did.
	TakeLastAction(ctx context.Context, tellerID string, ticketID TicketID) (bool, error)
}
