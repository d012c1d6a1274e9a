package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
)

// ClearDemo removes the built-in demo tickets and forgets the demo seed so
// the service applies it again on its next start.
func ClearDemo(ctx context.Context, opts Options, logger aqm.Logger) error {
	logger.Info("Starting demo data cleanup...")

	t, err := openTarget(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer t.close(ctx)

	deleted, err := t.tickets.DeleteByIDs(ctx, DemoTicketIDs())
	if err != nil {
		return fmt.Errorf("delete demo tickets: %w", err)
	}
	logger.Info("Deleted demo tickets", "count", deleted)

	if t.mongoDB != nil {
		res, err := t.mongoDB.Collection("_seeds").DeleteOne(ctx, bson.M{"_id": queue.DemoSeedID})
		if err != nil {
			return fmt.Errorf("delete demo seed tracker: %w", err)
		}
		logger.Info("Cleared demo seed tracker", "deleted", res.DeletedCount)
	}
	return nil
}

// DemoTicketIDs lists the ids DemoTickets assigns.
func DemoTicketIDs() []queue.TicketID {
	tickets := queue.DemoTickets(time.Time{})
	ids := make([]queue.TicketID, len(tickets))
	for i := range tickets {
		ids[i] = tickets[i].ID
	}
	return ids
}
