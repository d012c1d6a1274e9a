package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/priority"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/seed"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	tellerDemoSeedApplication = "teller_demo"

	// DemoSeedID identifies the demo seed in the seed tracker.
	DemoSeedID = "2025-01-10_demo_teller_tickets_v1"
)

// demoNamespace derives stable ids so demo tickets can be found and removed later.
var demoNamespace = uuid.MustParse("5b0c9f1e-3f7a-4d55-9a36-8f3e6c1d2a40")

// DemoTicketID returns the id of the n-th demo ticket.
func DemoTicketID(n int) TicketID {
	return uuid.NewSHA1(demoNamespace, []byte(fmt.Sprintf("demo-ticket-%d", n)))
}

// ApplyDemoSeeds fills every queue with a few waiting customers, once per database.
func ApplyDemoSeeds(ctx context.Context, store *TicketStore, db *mongo.Database, logger aqm.Logger) error {
	if db == nil {
		return errors.New("database is required for demo seeding")
	}
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}

	tracker := seed.NewMongoTracker(db)
	seeds := []seed.Seed{
		{
			ID:          DemoSeedID,
			Description: "Create waiting demo tickets for every queue type",
			Run: func(ctx context.Context) error {
				return SeedTickets(ctx, store, DemoTickets(time.Now()), logger)
			},
		},
	}

	logger.Info("Applying demo teller seeds")
	if err := seed.Apply(ctx, tracker, seeds, tellerDemoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo teller seeds applied successfully")
	return nil
}

// SeedTickets stores tickets as waiting customers, skipping ids that already exist.
func SeedTickets(ctx context.Context, store *TicketStore, tickets []Ticket, logger aqm.Logger) error {
	created := 0
	for i := range tickets {
		t := tickets[i]
		if _, err := store.Get(ctx, t.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrTicketNotFound) {
			return err
		}
		if err := store.Create(ctx, &t); err != nil {
			return fmt.Errorf("create ticket %s: %w", t.Number, err)
		}
		created++
	}
	logger.Info("Seeded tickets", "count", created)
	return nil
}

// DemoTickets builds two standard tickets per queue type and one expedited
// deposit that arrives last but is served first.
func DemoTickets(now time.Time) []Ticket {
	base := now.Add(-30 * time.Minute)
	var tickets []Ticket
	n := 0

	for i, qt := range queuetype.All {
		for j := 0; j < 2; j++ {
			n++
			tickets = append(tickets, Ticket{
				ID:        DemoTicketID(n),
				Number:    fmt.Sprintf("%c%03d", 'A'+i, j+1),
				QueueType: qt.Code(),
				Priority:  priority.Priorities.Standard.Code(),
				Payload:   demoPayload(qt.Code(), n),
				CreatedAt: base.Add(time.Duration(n) * time.Minute),
			})
		}
	}

	n++
	deposit := queuetype.QueueTypes.Deposit.Code()
	tickets = append(tickets, Ticket{
		ID:        DemoTicketID(n),
		Number:    "A900",
		QueueType: deposit,
		Priority:  priority.Priorities.Expedited.Code(),
		Payload:   demoPayload(deposit, n),
		CreatedAt: base.Add(time.Duration(n) * time.Minute),
	})

	return tickets
}

func demoPayload(queueType string, n int) Payload {
	account := fmt.Sprintf("ACC-%05d", 10000+n)
	amount := int64(n) * 2500

	p := Payload{Type: queueType}
	switch queueType {
	case queuetype.QueueTypes.Deposit.Code():
		p.Deposit = &AmountBody{AccountID: account, AmountCents: amount}
	case queuetype.QueueTypes.Withdraw.Code():
		p.Withdraw = &AmountBody{AccountID: account, AmountCents: amount}
	case queuetype.QueueTypes.PayLoan.Code():
		p.PayLoan = &AmountBody{AccountID: account, AmountCents: amount}
	case queuetype.QueueTypes.OpenAccount.Code():
		p.OpenAccount = &OpenAccountBody{FirstName: "Demo", LastName: fmt.Sprintf("Customer %d", n), OpeningAmountCents: amount}
	case queuetype.QueueTypes.OpenLoan.Code():
		p.OpenLoan = &OpenLoanBody{AccountID: account, AmountCents: amount * 10, MonthlyInterest: "1.25"}
	case queuetype.QueueTypes.CloseAccount.Code():
		p.CloseAccount = &CloseAccountBody{AccountID: account}
	}
	return p
}
