package queue

import (
	"context"
	"strings"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/priority"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
	"github.com/google/uuid"
)

type TicketID = uuid.UUID

type Ticket struct {
	ID           TicketID `bson:"_id" json:"id"`
	Number       string   `bson:"number,omitempty" json:"number,omitempty"`
	QueueType    string   `bson:"queue_type" json:"queue_type"`
	Priority     string   `bson:"priority" json:"priority"`
	PriorityRank int      `bson:"priority_rank" json:"-"`
	State        string   `bson:"state" json:"state"`
	ServicedBy   string   `bson:"serviced_by" json:"serviced_by,omitempty"`
	Payload      Payload  `bson:"payload" json:"payload"`

	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
	ServiceStartedAt *time.Time `bson:"service_started_at" json:"service_started_at,omitempty"`
	CompletedAt      *time.Time `bson:"completed_at" json:"completed_at,omitempty"`
	SkippedAt        *time.Time `bson:"skipped_at" json:"skipped_at,omitempty"`

	ModelVersion int `bson:"model_version" json:"model_version"`
}

// Lifecycle holds the service fields that are written together with a state
// change. A nil timestamp or empty ServicedBy clears the stored value.
type Lifecycle struct {
	ServicedBy       string
	ServiceStartedAt *time.Time
	CompletedAt      *time.Time
	SkippedAt        *time.Time
}

// TicketCondition is the value a ticket must currently hold for a conditional
// update to apply. An empty ServicedBy is not checked.
type TicketCondition struct {
	State      string
	ServicedBy string
}

// TicketUpdate is the complete set of lifecycle fields a transition writes.
type TicketUpdate struct {
	State string
	Lifecycle
	UpdatedAt time.Time
}

// Matches reports whether the ticket satisfies cond.
func (t *Ticket) Matches(cond TicketCondition) bool {
	if t.State != cond.State {
		return false
	}
	return cond.ServicedBy == "" || t.ServicedBy == cond.ServicedBy
}

// Apply writes u onto the ticket.
func (t *Ticket) Apply(u TicketUpdate) {
	t.State = u.State
	t.ServicedBy = u.ServicedBy
	t.ServiceStartedAt = u.ServiceStartedAt
	t.CompletedAt = u.CompletedAt
	t.SkippedAt = u.SkippedAt
	t.UpdatedAt = u.UpdatedAt
}

// WaitingFor returns how long the customer has been queued, or served for
// tickets that already left the queue.
func (t *Ticket) WaitingFor(now time.Time) time.Duration {
	end := now
	if t.ServiceStartedAt != nil {
		end = *t.ServiceStartedAt
	}
	if end.Before(t.CreatedAt) {
		return 0
	}
	return end.Sub(t.CreatedAt)
}

// Less orders waiting tickets: expedited first, then arrival, then id.
func (t *Ticket) Less(other *Ticket) bool {
	if t.PriorityRank != other.PriorityRank {
		return t.PriorityRank < other.PriorityRank
	}
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.Before(other.CreatedAt)
	}
	return strings.Compare(t.ID.String(), other.ID.String()) < 0
}

func ValidateTicket(ctx context.Context, t *Ticket) []string {
	var errors []string

	if t == nil {
		return []string{"ticket is required"}
	}

	if t.ID == uuid.Nil {
		errors = append(errors, "id is required")
	}

	if !queuetype.Valid(t.QueueType) {
		errors = append(errors, "invalid queue_type")
	}

	if priority.ByName(t.Priority) == nil {
		errors = append(errors, "invalid priority")
	}

	if t.Payload.Type != t.QueueType {
		errors = append(errors, "payload type must match queue_type")
	}

	errors = append(errors, t.Payload.Validate()...)

	return errors
}
