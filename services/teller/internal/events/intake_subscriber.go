package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/priority"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/event"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/google/uuid"
)

// IntakeSubscriber turns kiosk intake events into waiting tickets.
type IntakeSubscriber struct {
	subscriber events.Subscriber
	store      *queue.TicketStore
	logger     aqm.Logger
}

func NewIntakeSubscriber(subscriber events.Subscriber, store *queue.TicketStore, logger aqm.Logger) *IntakeSubscriber {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &IntakeSubscriber{
		subscriber: subscriber,
		store:      store,
		logger:     logger,
	}
}

func (s *IntakeSubscriber) Start(ctx context.Context) error {
	s.logger.Info("Starting IntakeSubscriber", "topic", event.IntakeTopic)

	if err := s.subscriber.Subscribe(ctx, event.IntakeTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.IntakeTopic, err)
	}

	s.logger.Info("IntakeSubscriber started successfully")
	return nil
}

// handleEvent returns an error only for failures worth redelivering.
// Malformed events are logged and dropped.
func (s *IntakeSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.IntakeTicketEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal intake event: %v", err)
		return nil
	}

	if evt.EventType != event.EventIntakeTicketCreated {
		s.logger.Debug("ignoring intake event", "event_type", evt.EventType)
		return nil
	}

	return s.handleCreated(ctx, &evt)
}

func (s *IntakeSubscriber) handleCreated(ctx context.Context, evt *event.IntakeTicketEvent) error {
	id, err := uuid.Parse(evt.TicketID)
	if err != nil {
		s.logger.Errorf("Invalid ticket_id %q: %v", evt.TicketID, err)
		return nil
	}

	_, err = s.store.Get(ctx, id)
	if err == nil {
		s.logger.Debug("intake ticket already stored", "ticket_id", id)
		return nil
	}
	if !errors.Is(err, queue.ErrTicketNotFound) {
		return err
	}

	prio := evt.Priority
	if prio == "" {
		prio = priority.Priorities.Standard.Code()
	}

	ticket := &queue.Ticket{
		ID:        id,
		Number:    evt.Number,
		QueueType: evt.QueueType,
		Priority:  prio,
		Payload:   payloadFromIntake(evt.QueueType, evt.Payload),
		CreatedAt: evt.CreatedAt,
	}

	if err := s.store.Create(ctx, ticket); err != nil {
		if errors.Is(err, queue.ErrInvalidTicket) {
			s.logger.Errorf("Rejected intake ticket %s: %v", id, err)
			return nil
		}
		s.logger.Errorf("Failed to create ticket: %v", err)
		return err
	}

	s.logger.Info("ticket queued", "ticket_id", id, "number", ticket.Number, "queue_type", ticket.QueueType, "priority", ticket.Priority)
	return nil
}

// payloadFromIntake maps the flat kiosk form onto the body for queueType.
// A form whose type disagrees with the queue is kept as is and rejected by
// validation.
func payloadFromIntake(queueType string, p event.IntakePayload) queue.Payload {
	payload := queue.Payload{Type: p.Type}
	if payload.Type == "" {
		payload.Type = queueType
	}

	switch payload.Type {
	case queuetype.QueueTypes.Deposit.Code():
		payload.Deposit = &queue.AmountBody{AccountID: p.AccountID, AmountCents: p.AmountCents}
	case queuetype.QueueTypes.Withdraw.Code():
		payload.Withdraw = &queue.AmountBody{AccountID: p.AccountID, AmountCents: p.AmountCents}
	case queuetype.QueueTypes.PayLoan.Code():
		payload.PayLoan = &queue.AmountBody{AccountID: p.AccountID, AmountCents: p.AmountCents}
	case queuetype.QueueTypes.OpenAccount.Code():
		payload.OpenAccount = &queue.OpenAccountBody{
			FirstName:          p.FirstName,
			LastName:           p.LastName,
			OpeningAmountCents: p.AmountCents,
		}
	case queuetype.QueueTypes.OpenLoan.Code():
		payload.OpenLoan = &queue.OpenLoanBody{
			AccountID:       p.AccountID,
			AmountCents:     p.AmountCents,
			MonthlyInterest: p.MonthlyInterest,
		}
	case queuetype.QueueTypes.CloseAccount.Code():
		payload.CloseAccount = &queue.CloseAccountBody{AccountID: p.AccountID}
	}

	return payload
}
