package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	defaultURL     = "mongodb://localhost:27017"
	defaultDBName  = "bankqueue_teller"
	connectTimeout = 10 * time.Second
)

// BaseRepo owns the client shared by the ticket and session repositories.
type BaseRepo struct {
	client *mongo.Client
	db     *mongo.Database
	logger aqm.Logger
	config *aqm.Config
}

func NewBaseRepo(config *aqm.Config, logger aqm.Logger) *BaseRepo {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &BaseRepo{
		logger: logger,
		config: config,
	}
}

// Start connects with majority writes and primary reads so that a claim or
// transition acknowledged to one replica of the service is seen by the next.
func (r *BaseRepo) Start(ctx context.Context) error {
	uri, dbName := defaultURL, defaultDBName
	if r.config != nil {
		if v, _ := r.config.GetString("db.mongo.url"); v != "" {
			uri = v
		}
		if v, _ := r.config.GetString("db.mongo.name"); v != "" {
			dbName = v
		}
	}

	opts := options.Client().
		ApplyURI(uri).
		SetAppName("bankqueue-teller").
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary()).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("cannot reach MongoDB primary: %w", err)
	}

	r.client = client
	r.db = client.Database(dbName)
	r.logger.Info("MongoDB ready", "database", dbName)
	return nil
}

func (r *BaseRepo) Stop(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		r.logger.Info("Disconnected from MongoDB")
	}
	return nil
}

func (r *BaseRepo) GetDatabase() *mongo.Database {
	return r.db
}

// Ping reports whether the server is reachable; used by the health service.
func (r *BaseRepo) Ping(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("mongo client not started")
	}
	return r.client.Ping(ctx, readpref.Primary())
}
