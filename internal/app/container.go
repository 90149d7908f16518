// Package app wires configuration, storage, messaging and the billing
// services into a running gateway.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/settlr/settlr/internal/billing/application/commands"
	"github.com/settlr/settlr/internal/billing/application/queries"
	"github.com/settlr/settlr/internal/billing/application/services"
	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	billingPersistence "github.com/settlr/settlr/internal/billing/infrastructure/persistence"
	merchantApp "github.com/settlr/settlr/internal/merchants/application"
	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	merchantPersistence "github.com/settlr/settlr/internal/merchants/infrastructure/persistence"
	"github.com/settlr/settlr/internal/relay"
	"github.com/settlr/settlr/internal/shared/application"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
	_ "github.com/settlr/settlr/internal/shared/infrastructure/database/postgres" // register driver
	_ "github.com/settlr/settlr/internal/shared/infrastructure/database/sqlite"   // register driver
	"github.com/settlr/settlr/internal/shared/infrastructure/eventbus"
	"github.com/settlr/settlr/internal/shared/infrastructure/locking"
	"github.com/settlr/settlr/internal/shared/infrastructure/migrations"
	"github.com/settlr/settlr/internal/shared/infrastructure/outbox"
	webhookApp "github.com/settlr/settlr/internal/webhooks/application"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
	webhookPersistence "github.com/settlr/settlr/internal/webhooks/infrastructure/persistence"
	"github.com/settlr/settlr/internal/webhooks/infrastructure/sender"
	"github.com/settlr/settlr/pkg/config"
	"github.com/settlr/settlr/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.PrometheusMetrics
	Health  *observability.HealthRegistry

	DBConn      database.Connection
	RedisClient *redis.Client

	SubscriptionRepo subscription.Repository
	PlanRepo         plan.Repository
	PaymentRepo      payment.Repository
	MerchantRepo     merchant.Repository
	DeliveryRepo     delivery.Repository
	OutboxRepo       outbox.Repository

	UnitOfWork     application.UnitOfWork
	EventRecorder  *application.EventRecorder
	EventPublisher eventbus.Publisher
	Locker         locking.Locker

	RelayClient relay.Client
	Charger     *services.Charger
	Sweeper     *services.Sweeper

	SubscribeHandler *commands.SubscribeHandler
	LifecycleHandler *commands.LifecycleHandler
	ChargeNowHandler *commands.ChargeNowHandler
	PlanHandler      *commands.PlanHandler

	SubscriptionQueries *queries.SubscriptionQueries
	PlanQueries         *queries.PlanQueries

	MerchantService   *merchantApp.Service
	WebhookDispatcher *webhookApp.Dispatcher

	OutboxProcessor *outbox.Processor

	// inProcessBus replaces RabbitMQ in local mode; events published by the
	// outbox processor are dispatched synchronously to the webhook
	// dispatcher.
	inProcessBus *eventbus.InProcessEventBus
}

// NewContainer creates and wires all dependencies.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewPrometheusMetrics(nil),
	}

	if err := c.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := c.initRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initEventBus(); err != nil {
		c.Close()
		return nil, err
	}
	c.initRepositories()
	c.initServices()

	logger.Info("container initialized",
		"driver", c.DBConn.Driver(),
		"env", cfg.AppEnv,
	)
	return c, nil
}

func (c *Container) initDatabase(ctx context.Context) error {
	cfg := c.Config

	dbConfig := database.Config{URL: cfg.DatabaseURL}
	if database.DetectDriver(cfg.DatabaseURL) == database.DriverSQLite {
		dbConfig.SQLitePath = database.DefaultSQLitePath()
		if cfg.DatabaseURL != "" {
			dbConfig.SQLitePath = cfg.DatabaseURL
		}
		if err := database.EnsureDirectory(dbConfig.SQLitePath); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := database.NewConnection(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	c.DBConn = conn

	// Local mode is zero-config: the embedded schema is applied on start.
	// PostgreSQL deployments migrate explicitly via the migrate command.
	if conn.Driver() == database.DriverSQLite {
		if err := migrations.Run(ctx, conn); err != nil {
			return fmt.Errorf("applying sqlite migrations: %w", err)
		}
	}

	c.Logger.Info("connected to database", "driver", conn.Driver())
	return nil
}

func (c *Container) initRedis(ctx context.Context) error {
	cfg := c.Config

	if cfg.RedisURL == "" {
		if cfg.IsProduction() {
			return fmt.Errorf("REDIS_URL is required in production")
		}
		c.Logger.Warn("Redis not configured, sweep lock is process-local")
		c.Locker = locking.NewLocalLocker()
		return nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, sweep lock is process-local", "error", err)
		c.Locker = locking.NewLocalLocker()
		return nil
	}

	c.RedisClient = client
	c.Locker = locking.NewRedisLocker(client, c.Logger)
	c.Logger.Info("connected to Redis")
	return nil
}

func (c *Container) initEventBus() error {
	cfg := c.Config

	if cfg.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, c.Logger)
		if err == nil {
			c.EventPublisher = publisher
			c.Logger.Info("connected to RabbitMQ")
			return nil
		}
		if cfg.IsProduction() {
			return fmt.Errorf("connecting to RabbitMQ: %w", err)
		}
		c.Logger.Warn("RabbitMQ not available, using in-process event bus", "error", err)
	}

	if cfg.IsProduction() {
		return fmt.Errorf("RABBITMQ_URL is required in production")
	}

	c.inProcessBus = eventbus.NewInProcessEventBus(c.Logger)
	c.EventPublisher = c.inProcessBus
	return nil
}

func (c *Container) initRepositories() {
	conn := c.DBConn

	c.SubscriptionRepo = billingPersistence.NewSubscriptionRepository(conn)
	c.PlanRepo = billingPersistence.NewPlanRepository(conn)
	c.PaymentRepo = billingPersistence.NewPaymentRepository(conn)
	c.MerchantRepo = merchantPersistence.NewMerchantRepository(conn)
	c.DeliveryRepo = webhookPersistence.NewDeliveryRepository(conn)

	if conn.Driver() == database.DriverSQLite {
		c.OutboxRepo = outbox.NewSQLiteRepository(conn)
	} else {
		c.OutboxRepo = outbox.NewPostgresRepository(conn)
	}

	c.UnitOfWork = database.NewUnitOfWork(conn)
	c.EventRecorder = application.NewEventRecorder(c.OutboxRepo)
}

func (c *Container) initServices() {
	cfg := c.Config

	relayConfig := relay.DefaultHTTPClientConfig(cfg.RelayURL, cfg.RelayAPIKey)
	relayConfig.Timeout = cfg.RelayTimeout
	c.RelayClient = relay.NewHTTPClient(relayConfig, c.Logger)

	c.Health = observability.NewHealthRegistry()
	c.Health.Register("database", observability.DatabaseHealthChecker(c.DBConn.Ping))
	if c.RedisClient != nil {
		c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return c.RedisClient.Ping(ctx).Err()
		}))
	}
	c.Health.Register("relay", observability.RelayHealthChecker(c.RelayClient.Ping))

	c.Charger = services.NewCharger(c.PaymentRepo, c.RelayClient, cfg.PlatformFeeBps, c.Logger, c.Metrics)
	c.Sweeper = services.NewSweeper(
		c.SubscriptionRepo,
		c.PaymentRepo,
		c.Charger,
		c.EventRecorder,
		c.UnitOfWork,
		c.Locker,
		services.SweeperConfig{
			BatchSize:      cfg.SweepBatchSize,
			LockTTL:        cfg.SweepLockTTL,
			PendingTimeout: cfg.PaymentPendingTimeout,
		},
		c.Logger,
		c.Metrics,
	)

	c.SubscribeHandler = commands.NewSubscribeHandler(
		c.PlanRepo,
		c.MerchantRepo,
		c.SubscriptionRepo,
		c.Charger,
		c.EventRecorder,
		c.UnitOfWork,
		cfg.DefaultMaxRetries,
		c.Logger,
		c.Metrics,
	)
	c.LifecycleHandler = commands.NewLifecycleHandler(c.SubscriptionRepo, c.EventRecorder, c.UnitOfWork, c.Logger, c.Metrics)
	c.ChargeNowHandler = commands.NewChargeNowHandler(c.SubscriptionRepo, c.Charger, c.EventRecorder, c.UnitOfWork, c.Logger, c.Metrics)
	c.PlanHandler = commands.NewPlanHandler(c.PlanRepo, c.UnitOfWork, c.Logger)

	c.SubscriptionQueries = queries.NewSubscriptionQueries(c.SubscriptionRepo, c.PaymentRepo)
	c.PlanQueries = queries.NewPlanQueries(c.PlanRepo)

	c.MerchantService = merchantApp.NewService(c.MerchantRepo, c.Logger)

	senderConfig := sender.DefaultConfig()
	senderConfig.Timeout = cfg.WebhookTimeout
	c.WebhookDispatcher = webhookApp.NewDispatcher(
		webhookApp.DispatcherConfig{
			BatchSize:   cfg.SweepBatchSize,
			MaxAttempts: cfg.WebhookMaxAttempts,
		},
		c.DeliveryRepo,
		c.MerchantRepo,
		sender.NewHTTPSender(senderConfig, c.Logger),
		c.Logger,
		c.Metrics,
	)

	// In local mode the dispatcher listens on the in-process bus, so events
	// flushed from the outbox reach merchant endpoints without a broker.
	if c.inProcessBus != nil {
		c.inProcessBus.RegisterConsumer(c.WebhookDispatcher)
	}

	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, outbox.ProcessorConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxRetries:   cfg.OutboxMaxRetries,
	}, c.Logger)
}

// NewEventConsumer returns the consumer the worker runs the webhook
// dispatcher on: the in-process bus in local mode, a RabbitMQ queue
// otherwise. The dispatcher is already registered.
func (c *Container) NewEventConsumer() (eventbus.Consumer, error) {
	if c.inProcessBus != nil {
		return c.inProcessBus, nil
	}

	registry := eventbus.NewConsumerRegistry(c.Logger)
	consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
		URL:    c.Config.RabbitMQURL,
		Logger: c.Logger,
	}, registry)
	if err != nil {
		return nil, fmt.Errorf("connecting consumer to RabbitMQ: %w", err)
	}
	consumer.RegisterConsumer(c.WebhookDispatcher)
	return consumer, nil
}

// LocalMode reports whether events flow over the in-process bus instead of
// RabbitMQ. In local mode the API process must also consume, since there is
// no broker for a separate worker to read from.
func (c *Container) LocalMode() bool {
	return c.inProcessBus != nil
}

// Migrate applies the embedded schema for the connected driver.
func (c *Container) Migrate(ctx context.Context) error {
	return migrations.Run(ctx, c.DBConn)
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		}
	}

	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("error closing database connection", "error", err)
		}
	}
}
