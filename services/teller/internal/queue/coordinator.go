package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/tellerstatus"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/ticketstate"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/event"
	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
)

// nextCustomerAttempts bounds how often NextCustomer selects again after
// losing a ticket to another teller.
const nextCustomerAttempts = 2

// Coordinator ties claims and tickets together and is the only writer of
// ticket lifecycle state.
type Coordinator struct {
	registry  *Registry
	tickets   *TicketStore
	publisher events.Publisher
	logger    aqm.Logger
	now       func() time.Time
}

func NewCoordinator(registry *Registry, tickets *TicketStore, publisher events.Publisher, logger aqm.Logger) *Coordinator {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Coordinator{
		registry:  registry,
		tickets:   tickets,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (c *Coordinator) ClaimQueueType(ctx context.Context, queueType, tellerID string) (*TellerSession, error) {
	session, err := c.registry.Claim(ctx, queueType, tellerID)
	if err != nil {
		return nil, err
	}
	c.publishClaim(ctx, event.EventQueueClaimed, session.QueueType, tellerID)
	return session, nil
}

// ReleaseQueueType ends the teller's claim. Tickets are left as they are.
func (c *Coordinator) ReleaseQueueType(ctx context.Context, tellerID string) error {
	released, err := c.registry.Release(ctx, tellerID)
	if err != nil {
		return err
	}
	if released != nil {
		c.publishClaim(ctx, event.EventQueueReleased, released.QueueType, tellerID)
	}
	return nil
}

func (c *Coordinator) Heartbeat(ctx context.Context, tellerID string) error {
	return c.registry.Heartbeat(ctx, tellerID)
}

func (c *Coordinator) SetTellerStatus(ctx context.Context, tellerID, status string) error {
	return c.registry.SetStatus(ctx, tellerID, status)
}

func (c *Coordinator) ListActiveClaims(ctx context.Context) ([]Claim, error) {
	return c.registry.ListActive(ctx)
}

func (c *Coordinator) QueueDepth(ctx context.Context, queueType string) (int64, error) {
	return c.tickets.QueueDepth(ctx, queueType)
}

// ListTickets returns tickets matching filter in serving order.
func (c *Coordinator) ListTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	return c.tickets.List(ctx, filter)
}

// Staleness is how long a claim survives without heartbeats.
func (c *Coordinator) Staleness() time.Duration {
	return c.registry.Staleness()
}

func (c *Coordinator) Ticket(ctx context.Context, id TicketID) (*Ticket, error) {
	return c.tickets.Get(ctx, id)
}

// NextCustomer hands the teller the best waiting ticket of queueType. The
// teller must hold, or be able to claim, the queue type. An away teller is
// turned down before any claim is made.
func (c *Coordinator) NextCustomer(ctx context.Context, queueType, tellerID string) (*Ticket, error) {
	current, err := c.registry.Session(ctx, tellerID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status == tellerstatus.Statuses.Away.Code() {
		return nil, ErrTellerAway
	}

	session, err := c.registry.Ensure(ctx, queueType, tellerID)
	if err != nil {
		return nil, err
	}
	if session.Status == tellerstatus.Statuses.Away.Code() {
		return nil, ErrTellerAway
	}

	var lastErr error
	for attempt := 0; attempt < nextCustomerAttempts; attempt++ {
		candidate, err := c.tickets.NextWaiting(ctx, queueType)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return nil, ErrNoCustomerAvailable
		}

		now := c.now()
		ticket, err := c.tickets.Transition(ctx, candidate.ID,
			ticketstate.States.Waiting.Code(), ticketstate.States.InService.Code(), "",
			Lifecycle{ServicedBy: tellerID, ServiceStartedAt: &now})
		if err == nil {
			c.logger.Info("ticket in service", "ticket_id", ticket.ID, "queue_type", queueType, "teller_id", tellerID)
			c.markStatus(ctx, tellerID, tellerstatus.Statuses.Busy.Code())
			c.publishStateChange(ctx, ticket, ticketstate.States.Waiting.Code())
			return ticket, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}

		c.logger.Debug("lost ticket to another teller, selecting again", "ticket_id", candidate.ID, "attempt", attempt+1)
		lastErr = err
	}

	return nil, lastErr
}

func (c *Coordinator) CompleteTransaction(ctx context.Context, ticketID TicketID, tellerID string) (*Ticket, error) {
	return c.finish(ctx, ticketID, tellerID, ticketstate.States.Completed.Code())
}

func (c *Coordinator) SkipCustomer(ctx context.Context, ticketID TicketID, tellerID string) (*Ticket, error) {
	return c.finish(ctx, ticketID, tellerID, ticketstate.States.Skipped.Code())
}

func (c *Coordinator) finish(ctx context.Context, ticketID TicketID, tellerID, to string) (*Ticket, error) {
	current, err := c.ownedInService(ctx, ticketID, tellerID)
	if err != nil {
		return nil, err
	}

	ticket, err := c.tickets.Transition(ctx, ticketID,
		ticketstate.States.InService.Code(), to, tellerID,
		Lifecycle{ServicedBy: tellerID, ServiceStartedAt: current.ServiceStartedAt})
	if err != nil {
		return nil, err
	}

	at := ticket.UpdatedAt
	action := LastAction{TicketID: ticket.ID, State: to, At: at}
	if err := c.registry.RecordAction(ctx, tellerID, action); err != nil {
		// The ticket is already terminal; only the undo slot is lost.
		c.logger.Error("cannot record undo slot", "ticket_id", ticket.ID, "teller_id", tellerID, "error", err)
	}

	c.markStatus(ctx, tellerID, tellerstatus.Statuses.Available.Code())
	c.logger.Info("ticket finished", "ticket_id", ticket.ID, "state", to, "teller_id", tellerID)
	c.publishStateChange(ctx, ticket, ticketstate.States.InService.Code())
	return ticket, nil
}

// UndoLast sends the teller's most recent completed or skipped ticket back
// to the queue. The ticket is reverted first with a write conditioned on the
// recorded state and on the teller that finished it, so only one undo can
// win and a failed write leaves the slot in place for a retry.
func (c *Coordinator) UndoLast(ctx context.Context, tellerID string) (*Ticket, error) {
	session, err := c.registry.Session(ctx, tellerID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.LastAction == nil {
		return nil, ErrUndoUnavailable
	}
	action := *session.LastAction

	if st := ticketstate.ByName(action.State); st == nil || !st.Terminal() {
		return nil, fmt.Errorf("%w: recorded state %q", ErrUndoUnavailable, action.State)
	}

	ticket, err := c.tickets.Transition(ctx, action.TicketID, action.State, ticketstate.States.Waiting.Code(), tellerID, Lifecycle{})
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrTicketNotFound) || errors.Is(err, ErrInvalidStateTransition) {
			return nil, fmt.Errorf("%w: %v", ErrUndoUnavailable, err)
		}
		return nil, err
	}

	// The ticket is already back in the queue. A slot left behind cannot
	// revert it twice because its recorded state no longer matches.
	taken, err := c.registry.TakeAction(ctx, tellerID, action.TicketID)
	if err != nil {
		c.logger.Error("cannot clear undo slot", "ticket_id", ticket.ID, "teller_id", tellerID, "error", err)
	} else if !taken {
		c.logger.Debug("undo slot already replaced", "ticket_id", ticket.ID, "teller_id", tellerID)
	}

	c.logger.Info("ticket returned to queue", "ticket_id", ticket.ID, "previous_state", action.State, "teller_id", tellerID)
	c.publishStateChange(ctx, ticket, action.State, tellerID)
	return ticket, nil
}

// CallCustomer announces the teller's in-service ticket on display boards.
func (c *Coordinator) CallCustomer(ctx context.Context, ticketID TicketID, tellerID string) (*Ticket, error) {
	ticket, err := c.ownedInService(ctx, ticketID, tellerID)
	if err != nil {
		return nil, err
	}

	evt := event.TicketCalledEvent{
		TicketEventMetadata: c.metadata(event.EventTicketCalled, ticket, tellerID),
	}
	c.publish(ctx, event.TicketsTopic, evt)
	return ticket, nil
}

// markStatus records what the teller is doing. The ticket write already
// happened, so a failure here is only logged.
func (c *Coordinator) markStatus(ctx context.Context, tellerID, status string) {
	if err := c.registry.SetStatus(ctx, tellerID, status); err != nil {
		c.logger.Error("cannot update teller status", "teller_id", tellerID, "status", status, "error", err)
	}
}

func (c *Coordinator) ownedInService(ctx context.Context, ticketID TicketID, tellerID string) (*Ticket, error) {
	current, err := c.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if current.State != ticketstate.States.InService.Code() {
		return nil, fmt.Errorf("%w: ticket %s is %s", ErrInvalidStateTransition, ticketID, current.State)
	}
	if current.ServicedBy != tellerID {
		return nil, fmt.Errorf("%w: ticket %s is served by another teller", ErrInvalidStateTransition, ticketID)
	}
	return current, nil
}

func (c *Coordinator) metadata(eventType string, t *Ticket, tellerID string) event.TicketEventMetadata {
	return event.TicketEventMetadata{
		EventType:  eventType,
		OccurredAt: c.now(),
		TicketID:   t.ID.String(),
		Number:     t.Number,
		QueueType:  t.QueueType,
		TellerID:   tellerID,
	}
}

func (c *Coordinator) publishStateChange(ctx context.Context, t *Ticket, previous string, teller ...string) {
	eventType := event.EventTicketServiced
	switch t.State {
	case ticketstate.States.Completed.Code():
		eventType = event.EventTicketCompleted
	case ticketstate.States.Skipped.Code():
		eventType = event.EventTicketSkipped
	case ticketstate.States.Waiting.Code():
		eventType = event.EventTicketReverted
	}

	tellerID := t.ServicedBy
	if len(teller) > 0 {
		tellerID = teller[0]
	}

	evt := event.TicketStateChangedEvent{
		TicketEventMetadata: c.metadata(eventType, t, tellerID),
		NewState:            t.State,
		PreviousState:       previous,
	}
	c.publish(ctx, event.TicketsTopic, evt)
}

func (c *Coordinator) publishClaim(ctx context.Context, eventType, queueType, tellerID string) {
	evt := event.QueueClaimEvent{
		EventType:  eventType,
		OccurredAt: c.now(),
		QueueType:  queueType,
		TellerID:   tellerID,
	}
	c.publish(ctx, event.ClaimsTopic, evt)
}

// publish is best effort: the store is the source of truth, events only
// notify display boards and dashboards.
func (c *Coordinator) publish(ctx context.Context, topic string, evt any) {
	if c.publisher == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		c.logger.Errorf("cannot encode event for %s: %v", topic, err)
		return
	}
	if err := c.publisher.Publish(ctx, topic, data); err != nil {
		c.logger.Errorf("Failed to publish event to %s: %v", topic, err)
	}
}
