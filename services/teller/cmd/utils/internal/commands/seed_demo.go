package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"github.com/aquamarinepk/aqm"
)

// SeedDemo stores the built-in demo customers, or the ones in opts.File.
func SeedDemo(ctx context.Context, opts Options, logger aqm.Logger) error {
	now := time.Now()
	tickets := queue.DemoTickets(now)

	if opts.File != "" {
		f, err := os.Open(opts.File)
		if err != nil {
			return fmt.Errorf("open fixture file: %w", err)
		}
		defer f.Close()

		tickets, err = LoadFixtures(f, now)
		if err != nil {
			return err
		}
		logger.Info("Loaded ticket fixtures", "file", opts.File, "count", len(tickets))
	}

	t, err := openTarget(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer t.close(ctx)

	return queue.SeedTickets(ctx, queue.NewTicketStore(t.tickets), tickets, logger)
}
