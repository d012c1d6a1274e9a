package event

import "time"

const (
	TicketsTopic = "teller.tickets"
	ClaimsTopic  = "teller.claims"
	IntakeTopic  = "intake.tickets"

	EventTicketServiced  = "ticket.serviced"
	EventTicketCompleted = "ticket.completed"
	EventTicketSkipped   = "ticket.skipped"
	EventTicketReverted  = "ticket.reverted"
	EventTicketCalled    = "ticket.called"

	EventQueueClaimed  = "queue.claimed"
	EventQueueReleased = "queue.released"

	EventIntakeTicketCreated = "intake.ticket.created"
)

type TicketEventMetadata struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	TicketID   string    `json:"ticket_id"`
	Number     string    `json:"number,omitempty"`
	QueueType  string    `json:"queue_type"`
	TellerID   string    `json:"teller_id"`
}

// TicketStateChangedEvent is published after every committed lifecycle transition.
type TicketStateChangedEvent struct {
	TicketEventMetadata
	NewState      string `json:"new_state"`
	PreviousState string `json:"previous_state"`
}

// TicketCalledEvent asks display boards to announce the ticket at the teller's counter.
type TicketCalledEvent struct {
	TicketEventMetadata
}

type QueueClaimEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	QueueType  string    `json:"queue_type"`
	TellerID   string    `json:"teller_id"`
}

// IntakeTicketEvent is produced by the upstream intake kiosk when a customer
// takes a number. Payload is forwarded untouched.
type IntakeTicketEvent struct {
	EventType  string        `json:"event_type"`
	OccurredAt time.Time     `json:"occurred_at"`
	TicketID   string        `json:"ticket_id"`
	Number     string        `json:"number"`
	QueueType  string        `json:"queue_type"`
	Priority   string        `json:"priority"`
	CreatedAt  time.Time     `json:"created_at"`
	Payload    IntakePayload `json:"payload"`
}

// IntakePayload mirrors the kiosk form for each transaction type.
type IntakePayload struct {
	Type            string `json:"type"`
	AccountID       string `json:"account_id,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	AmountCents     int64  `json:"amount_cents,omitempty"`
	MonthlyInterest string `json:"monthly_interest,omitempty"`
}
