package commands

import (
	"context"
	"database/sql"
	"fmt"

	tellermongo "github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/mongo"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/postgres"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ticketRepo interface {
	queue.TicketRepository
	DeleteByIDs(ctx context.Context, ids []queue.TicketID) (int64, error)
}

// target is an open ticket store. Exactly one of mongoDB and sqlDB is set.
type target struct {
	tickets ticketRepo
	mongoDB *mongo.Database
	sqlDB   *sql.DB
	close   func(ctx context.Context) error
}

func openTarget(ctx context.Context, opts Options, logger aqm.Logger) (*target, error) {
	switch opts.DBDriver {
	case "postgres":
		db, err := postgres.Connect(opts.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Connected to Postgres")
		return &target{
			tickets: postgres.NewTicketRepo(db),
			sqlDB:   db,
			close:   func(context.Context) error { return db.Close() },
		}, nil

	default:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.MongoURL))
		if err != nil {
			return nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			client.Disconnect(ctx)
			return nil, fmt.Errorf("ping mongodb: %w", err)
		}
		logger.Info("Connected to MongoDB", "database", opts.MongoName)

		db := client.Database(opts.MongoName)
		repo := tellermongo.NewTicketRepo(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			client.Disconnect(ctx)
			return nil, err
		}
		return &target{
			tickets: repo,
			mongoDB: db,
			close:   client.Disconnect,
		}, nil
	}
}
