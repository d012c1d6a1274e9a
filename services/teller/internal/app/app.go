package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/event"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/events"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/mongo"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/postgres"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/redis"
	"github.com/aquamarinepk/aqm"
	aqmevents "github.com/aquamarinepk/aqm/events"
	"github.com/aquamarinepk/aqm/middleware"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

const (
	AppName    = "teller"
	AppVersion = "0.1.0"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// App encapsulates the teller service application
type App struct {
	config     *aqm.Config
	logger     aqm.Logger
	micro      *aqm.Micro
	lifecycles []interface{}
	health     *Health

	mongoDB  *mongodriver.Database
	tickets  queue.TicketRepository
	sessions queue.SessionRepository
}

// New creates a new teller service application
func New(config *aqm.Config, logger aqm.Logger) (*App, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &App{
		config: config,
		logger: logger,
		health: NewHealth(logger),
	}, nil
}

// Initialize connects the stores and builds every component
func (a *App) Initialize(ctx context.Context) error {
	if err := a.initStores(ctx); err != nil {
		return err
	}

	staleness := queue.DefaultStaleness
	if v := a.getString("queue.staleness", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid queue.staleness %q: %w", v, err)
		}
		staleness = d
	}

	if v := a.getString("health.interval", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid health.interval %q: %w", v, err)
		}
		a.health.SetInterval(d)
	}

	registry := queue.NewRegistry(a.sessions, staleness, a.logger)
	a.logger.Info("Claim registry ready", "staleness", registry.Staleness().String())
	store := queue.NewTicketStore(a.tickets)

	if a.getString("demo.enabled", "false") == "true" {
		if err := queue.ApplyDemoSeeds(ctx, store, a.mongoDB, a.logger); err != nil {
			a.logger.Errorf("Demo seeding failed (non-fatal): %v", err)
		}
	}

	publisher, subscriber, err := a.initMessaging()
	if err != nil {
		return err
	}

	coordinator := queue.NewCoordinator(registry, store, publisher, a.logger)
	intake := events.NewIntakeSubscriber(subscriber, store, a.logger)
	handler := queue.NewHandler(coordinator, a.config, a.logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	a.lifecycles = append(a.lifecycles, intake, a.health)

	options := []aqm.Option{
		aqm.WithConfig(a.config),
		aqm.WithLogger(a.logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler),
		aqm.WithGRPCServerModules("grpc.port", a.health),
		aqm.WithLifecycle(a.lifecycles...),
		aqm.WithHealthChecks(AppName),
	}

	a.micro = aqm.NewMicro(options...)
	return nil
}

// initStores starts the ticket backend and the session registry backend.
func (a *App) initStores(ctx context.Context) error {
	driver := a.getString("db.driver", DriverMongo)

	var sessionsFromDB queue.SessionRepository

	switch driver {
	case DriverMongo:
		base := mongo.NewBaseRepo(a.config, a.logger)
		if err := base.Start(ctx); err != nil {
			return fmt.Errorf("cannot start mongo repository: %w", err)
		}
		a.onStop(base.Stop)
		a.health.AddCheck("mongo", base.Ping)

		db := base.GetDatabase()
		if db == nil {
			return fmt.Errorf("repository database is nil")
		}
		ticketRepo := mongo.NewTicketRepo(db)
		if err := ticketRepo.EnsureIndexes(ctx); err != nil {
			return err
		}
		sessionRepo := mongo.NewSessionRepo(db)
		if err := sessionRepo.EnsureIndexes(ctx); err != nil {
			return err
		}
		a.mongoDB = db
		a.tickets = ticketRepo
		sessionsFromDB = sessionRepo

	case DriverPostgres:
		pg := postgres.NewDB(a.config, a.logger)
		if err := pg.Start(ctx); err != nil {
			return fmt.Errorf("cannot start postgres database: %w", err)
		}
		a.onStop(pg.Stop)
		a.health.AddCheck("postgres", pg.Ping)

		a.tickets = postgres.NewTicketRepo(pg.SQL())
		sessionsFromDB = postgres.NewSessionRepo(pg.SQL())

	default:
		return fmt.Errorf("unknown db.driver %q", driver)
	}

	registryDriver := a.getString("registry.driver", "db")
	switch registryDriver {
	case "db":
		a.sessions = sessionsFromDB
	case DriverRedis:
		client := redis.NewClient(a.config, a.logger)
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("cannot start redis client: %w", err)
		}
		a.onStop(client.Stop)
		a.health.AddCheck("redis", client.Ping)
		a.sessions = redis.NewSessionRepo(client.Redis())
	default:
		return fmt.Errorf("unknown registry.driver %q", registryDriver)
	}

	a.logger.Info("Stores initialized", "db", driver, "registry", registryDriver)
	return nil
}

// initMessaging picks a JetStream-backed or core NATS publisher and the intake subscriber.
func (a *App) initMessaging() (aqmevents.Publisher, aqmevents.Subscriber, error) {
	natsURL := a.getString("nats.url", "nats://localhost:4222")

	if a.getString("nats.stream.enabled", "false") == "true" {
		tellerStream, err := pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:        natsURL,
			StreamName: "TELLER_EVENTS",
			Subjects:   []string{event.TicketsTopic, event.ClaimsTopic},
			MaxAge:     24 * time.Hour,
		}, a.logger)
		if err != nil {
			return nil, nil, err
		}
		a.onStop(func(context.Context) error { return tellerStream.Close() })

		intakeStream, err := pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:           natsURL,
			StreamName:    "INTAKE_EVENTS",
			Subjects:      []string{event.IntakeTopic},
			ConsumerName:  "teller-intake",
			FilterSubject: event.IntakeTopic,
			AckWait:       30 * time.Second,
			MaxDeliver:    10,
			MaxAge:        72 * time.Hour,
		}, a.logger)
		if err != nil {
			return nil, nil, err
		}
		a.onStop(func(context.Context) error { return intakeStream.Close() })

		a.logger.Info("NATS streams initialized for persistent events")
		return tellerStream, intakeStream, nil
	}

	publisher, err := pkg.NewNATSPublisher(natsURL, a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.onStop(func(context.Context) error { return publisher.Close() })

	subscriber, err := pkg.NewNATSSubscriber(natsURL, AppName, a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.onStop(func(context.Context) error { return subscriber.Close() })

	return publisher, subscriber, nil
}

func (a *App) onStop(fn func(context.Context) error) {
	a.lifecycles = append(a.lifecycles, aqm.LifecycleHooks{OnStop: fn})
}

func (a *App) getString(key, def string) string {
	if v, ok := a.config.GetString(key); ok && v != "" {
		return v
	}
	return def
}

// Run starts the application
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
