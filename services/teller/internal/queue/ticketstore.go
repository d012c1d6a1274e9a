package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/priority"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/ticketstate"
)

// TicketStore is the typed view over persisted tickets. It knows the state
// machine but nothing about claims.
type TicketStore struct {
	repo TicketRepository
	now  func() time.Time
}

func NewTicketStore(repo TicketRepository) *TicketStore {
	return &TicketStore{
		repo: repo,
		now:  time.Now,
	}
}

func (s *TicketStore) Get(ctx context.Context, id TicketID) (*Ticket, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeFailure("find ticket", err)
	}
	return t, nil
}

// Create stores a new waiting ticket handed over by intake.
func (s *TicketStore) Create(ctx context.Context, t *Ticket) error {
	if errs := ValidateTicket(ctx, t); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTicket, strings.Join(errs, "; "))
	}

	now := s.now()
	t.State = ticketstate.States.Waiting.Code()
	t.PriorityRank = priority.RankOf(t.Priority)
	t.ServicedBy = ""
	t.ServiceStartedAt = nil
	t.CompletedAt = nil
	t.SkippedAt = nil
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.ModelVersion = 1

	if err := s.repo.Create(ctx, t); err != nil {
		return storeFailure("create ticket", err)
	}
	return nil
}

// NextWaiting returns the best candidate for queueType without changing it,
// or nil when nobody is waiting.
func (s *TicketStore) NextWaiting(ctx context.Context, queueType string) (*Ticket, error) {
	if !queuetype.Valid(queueType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQueueType, queueType)
	}
	t, err := s.repo.NextWaiting(ctx, queueType)
	if err != nil {
		return nil, storeFailure("next waiting", err)
	}
	return t, nil
}

// Transition moves a ticket from one state to another in a single
// conditional write. owner, when set, must match the ticket's servicedBy.
func (s *TicketStore) Transition(ctx context.Context, id TicketID, from, to, owner string, lc Lifecycle) (*Ticket, error) {
	if !ticketstate.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}

	update, err := s.lifecycleFor(to, owner, lc)
	if err != nil {
		return nil, err
	}

	cond := TicketCondition{State: from, ServicedBy: owner}
	t, err := s.repo.UpdateIf(ctx, id, cond, update)
	if err != nil {
		if errors.Is(err, ErrPreconditionFailed) {
			return nil, fmt.Errorf("%w: ticket %s is no longer %s", ErrConcurrentModification, id, from)
		}
		return nil, storeFailure("transition", err)
	}
	return t, nil
}

// lifecycleFor fills in the fields each target state owns and clears the rest.
func (s *TicketStore) lifecycleFor(to, owner string, lc Lifecycle) (TicketUpdate, error) {
	now := s.now()
	u := TicketUpdate{State: to, UpdatedAt: now}

	switch to {
	case ticketstate.States.InService.Code():
		if lc.ServicedBy == "" {
			return u, fmt.Errorf("%w: in service requires a teller", ErrInvalidStateTransition)
		}
		u.ServicedBy = lc.ServicedBy
		u.ServiceStartedAt = lc.ServiceStartedAt
		if u.ServiceStartedAt == nil {
			u.ServiceStartedAt = &now
		}

	case ticketstate.States.Completed.Code(), ticketstate.States.Skipped.Code():
		u.ServicedBy = lc.ServicedBy
		if u.ServicedBy == "" {
			u.ServicedBy = owner
		}
		u.ServiceStartedAt = lc.ServiceStartedAt
		if to == ticketstate.States.Completed.Code() {
			u.CompletedAt = lc.CompletedAt
			if u.CompletedAt == nil {
				u.CompletedAt = &now
			}
		} else {
			u.SkippedAt = lc.SkippedAt
			if u.SkippedAt == nil {
				u.SkippedAt = &now
			}
		}

	case ticketstate.States.Waiting.Code():
		// Back in the queue: every service field is cleared.
	}

	return u, nil
}

func (s *TicketStore) QueueDepth(ctx context.Context, queueType string) (int64, error) {
	if !queuetype.Valid(queueType) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQueueType, queueType)
	}
	n, err := s.repo.CountWaiting(ctx, queueType)
	if err != nil {
		return 0, storeFailure("count waiting", err)
	}
	return n, nil
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// List returns tickets in serving order. Unknown filter values are rejected
// and the page size is clamped to MaxListLimit.
func (s *TicketStore) List(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	if filter.QueueType != nil && !queuetype.Valid(*filter.QueueType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQueueType, *filter.QueueType)
	}
	if filter.State != nil && ticketstate.ByName(*filter.State) == nil {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidTicket, *filter.State)
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}

	tickets, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storeFailure("list tickets", err)
	}
	return tickets, nil
}
