package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/looplinehq/loopline/adapter/api"
	availabilityCommands "github.com/looplinehq/loopline/internal/availability/application/commands"
	availabilityDomain "github.com/looplinehq/loopline/internal/availability/domain"
	availabilityPersistence "github.com/looplinehq/loopline/internal/availability/infrastructure/persistence"
	bookingCommands "github.com/looplinehq/loopline/internal/booking/application/commands"
	bookingDomain "github.com/looplinehq/loopline/internal/booking/domain"
	bookingPersistence "github.com/looplinehq/loopline/internal/booking/infrastructure/persistence"
	calendarApplication "github.com/looplinehq/loopline/internal/calendar/application"
	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	"github.com/looplinehq/loopline/internal/calendar/infrastructure/breaker"
	"github.com/looplinehq/loopline/internal/calendar/infrastructure/cache"
	"github.com/looplinehq/loopline/internal/calendar/infrastructure/caldav"
	"github.com/looplinehq/loopline/internal/calendar/infrastructure/graph"
	schedulingCommands "github.com/looplinehq/loopline/internal/scheduling/application/commands"
	schedulingQueries "github.com/looplinehq/loopline/internal/scheduling/application/queries"
	"github.com/looplinehq/loopline/internal/scheduling/application/services"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	schedulingPersistence "github.com/looplinehq/loopline/internal/scheduling/infrastructure/persistence"
	sharedApplication "github.com/looplinehq/loopline/internal/shared/application"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/eventbus"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/migrations"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/looplinehq/loopline/internal/shared/infrastructure/persistence"
	"github.com/looplinehq/loopline/pkg/config"
	"github.com/looplinehq/loopline/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// Container is the assembled service: connections, repositories, command
// handlers and the servers built on top of them. Fields are exported so
// the API process and the worker each pick the pieces they run.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	DB          *pgxpool.Pool
	RedisClient *redis.Client

	Metrics observability.Metrics
	Health  *observability.HealthRegistry

	RequestRepo  availabilityDomain.Repository
	SolveRunRepo schedulingDomain.SolveRunRepository
	BookingRepo  bookingDomain.Repository
	LoopRepo     bookingDomain.LoopRepository
	OutboxRepo   outbox.Repository

	EventPublisher eventbus.Publisher
	UnitOfWork     sharedApplication.UnitOfWork

	// ScheduleSource carries the circuit breaker, and Redis caching when
	// available; EventWriter carries the breaker only, so bookings and
	// cancellations always reach the provider.
	ScheduleSource calendarApplication.ScheduleReader
	EventWriter    calendarApplication.EventWriter

	Prefetcher    *services.SchedulePrefetcher
	SlotGenerator *services.SlotGenerator
	Solver        *services.LoopSolver

	CreateRequestHandler      *availabilityCommands.CreateRequestHandler
	SubmitAvailabilityHandler *availabilityCommands.SubmitAvailabilityHandler
	CancelRequestHandler      *availabilityCommands.CancelRequestHandler
	SolveLoopHandler          *schedulingCommands.SolveLoopHandler
	GenerateSlotsHandler      *schedulingQueries.GenerateSlotsHandler
	BookSlotHandler           *bookingCommands.BookSlotHandler
	CommitLoopHandler         *bookingCommands.CommitLoopHandler
	CancelLoopHandler         *bookingCommands.CancelLoopHandler

	APIServer       *api.Server
	OutboxProcessor *outbox.Processor
}

// NewContainer connects the external systems and wires the object graph.
// Postgres is required. Redis and RabbitMQ are allowed to be absent in
// development: schedule reads skip the cache and events stay buffered in
// the outbox table.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	pool, err := connectPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.DB = pool
	logger.Info("connected to database")

	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		if !cfg.IsDevelopment() {
			c.Close()
			return nil, err
		}
		logger.Warn("Redis not available, schedule reads will skip the cache", "error", err)
	} else if redisClient != nil {
		c.RedisClient = redisClient
		logger.Info("connected to Redis")
	}

	// Request metrics plus component health checks behind GET /health.
	c.Metrics = observability.NewInMemoryMetrics()
	c.Health = observability.NewHealthRegistry()
	c.Health.Register("postgres", observability.DatabaseHealthChecker(pool.Ping))
	if c.RedisClient != nil {
		redisClient := c.RedisClient
		c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	c.RequestRepo = availabilityPersistence.NewPostgresRequestRepository(pool)
	c.SolveRunRepo = schedulingPersistence.NewPostgresSolveRunRepository(pool)
	bookingRepo := bookingPersistence.NewPostgresBookingRepository(pool)
	c.BookingRepo = bookingRepo
	c.LoopRepo = bookingPersistence.NewPostgresLoopBookingRepository(pool)
	c.OutboxRepo = outbox.NewPostgresRepository(pool)
	c.UnitOfWork = sharedPersistence.NewPostgresUnitOfWork(pool)

	if publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger); err == nil {
		c.EventPublisher = publisher
		c.Health.Register("rabbitmq", observability.RabbitMQHealthChecker(publisher.Alive))
	} else if cfg.IsDevelopment() {
		logger.Warn("RabbitMQ not available, using noop publisher")
		c.EventPublisher = eventbus.NewNoopPublisher(logger)
	} else {
		c.Close()
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	// Calendar backend, guarded by circuit breakers.
	provider, err := calendarDomain.ParseProviderType(cfg.CalendarProvider)
	if err != nil {
		c.Close()
		return nil, err
	}
	reader, writer, err := buildCalendarBackend(provider, cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	guarded := breaker.New(reader, writer, breaker.DefaultSettings(), logger)
	c.EventWriter = guarded
	c.ScheduleSource = guarded
	if c.RedisClient != nil {
		c.ScheduleSource = cache.NewScheduleCache(guarded, c.RedisClient, cfg.ScheduleCacheTTL, logger)
	}
	logger.Info("calendar backend ready",
		"provider", provider.String(),
		"booking_supported", provider.SupportsBooking(),
	)

	c.Prefetcher = services.NewSchedulePrefetcher(c.ScheduleSource, bookingRepo)
	c.SlotGenerator = services.NewSlotGenerator()
	c.Solver = services.NewLoopSolver()

	c.CreateRequestHandler = availabilityCommands.NewCreateRequestHandler(c.RequestRepo, c.UnitOfWork)
	c.SubmitAvailabilityHandler = availabilityCommands.NewSubmitAvailabilityHandler(c.RequestRepo, c.OutboxRepo, c.UnitOfWork, availabilityDomain.DefaultNormalizeOptions())
	c.CancelRequestHandler = availabilityCommands.NewCancelRequestHandler(c.RequestRepo, c.OutboxRepo, c.UnitOfWork)
	c.SolveLoopHandler = schedulingCommands.NewSolveLoopHandler(c.RequestRepo, c.SolveRunRepo, c.Prefetcher, c.Solver, c.OutboxRepo, c.UnitOfWork)
	c.GenerateSlotsHandler = schedulingQueries.NewGenerateSlotsHandler(c.Prefetcher, c.SlotGenerator)
	c.BookSlotHandler = bookingCommands.NewBookSlotHandler(c.RequestRepo, c.BookingRepo, c.Prefetcher, c.SlotGenerator, c.EventWriter, c.OutboxRepo, c.UnitOfWork)
	c.CommitLoopHandler = bookingCommands.NewCommitLoopHandler(c.SolveRunRepo, c.RequestRepo, c.BookingRepo, c.LoopRepo, c.EventWriter, c.OutboxRepo, c.UnitOfWork)
	c.CancelLoopHandler = bookingCommands.NewCancelLoopHandler(c.LoopRepo, c.BookingRepo, c.RequestRepo, c.EventWriter, c.OutboxRepo, c.UnitOfWork)

	apiHandler := api.NewSchedulingHandler(api.SchedulingHandlerConfig{
		CreateRequest:      c.CreateRequestHandler,
		SubmitAvailability: c.SubmitAvailabilityHandler,
		CancelRequest:      c.CancelRequestHandler,
		GenerateSlots:      c.GenerateSlotsHandler,
		SolveLoop:          c.SolveLoopHandler,
		BookSlot:           c.BookSlotHandler,
		CommitLoop:         c.CommitLoopHandler,
		CancelLoop:         c.CancelLoopHandler,
		RequestRepo:        c.RequestRepo,
		SolveRunRepo:       c.SolveRunRepo,
		LoopRepo:           c.LoopRepo,
		DefaultPolicy:      policyFromConfig(cfg),
		DefaultOrganizer:   cfg.BookingOrganizer,
		Logger:             logger,
		Metrics:            c.Metrics,
	})
	serverConfig := api.DefaultServerConfig()
	serverConfig.Addr = cfg.HTTPAddr
	serverConfig.Metrics = c.Metrics
	serverConfig.Health = c.Health
	c.APIServer = api.NewServer(serverConfig, apiHandler, logger)

	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, outbox.ProcessorConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxRetries:   cfg.OutboxMaxRetries,
		Metrics:      c.Metrics,
	}, logger)

	return c, nil
}

// connectPostgres parses the pool configuration, dials and verifies the
// connection before anything else is wired.
func connectPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.DatabaseMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DatabaseMaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// connectRedis dials Redis when a URL is configured. No URL means no
// cache, which is not an error.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return client, nil
}

// RunMigrations applies the schema. Every statement is idempotent, so
// running at each startup is safe.
func (c *Container) RunMigrations(ctx context.Context) error {
	c.Logger.Info("running database migrations")
	if err := migrations.RunPostgresMigrations(ctx, c.DB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	c.Logger.Info("database migrations completed")
	return nil
}

// Close releases everything in reverse dependency order: the relay stops
// before the publisher and the pool it writes through go away.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("closing event publisher failed", "error", err)
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("closing Redis connection failed", "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

// buildCalendarBackend constructs the reader and writer for an already
// parsed provider. Graph serves reads and writes; CalDAV is free-busy
// only, so bookings against it fail until a writing provider is
// configured.
func buildCalendarBackend(provider calendarDomain.ProviderType, cfg *config.Config, logger *slog.Logger) (calendarApplication.ScheduleReader, calendarApplication.EventWriter, error) {
	switch provider {
	case calendarDomain.ProviderGraph:
		if cfg.GraphTenantID == "" || cfg.GraphClientID == "" || cfg.GraphClientSecret == "" || cfg.GraphServiceUser == "" {
			if !cfg.IsDevelopment() {
				return nil, nil, fmt.Errorf("calendar provider %q requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SERVICE_USER", provider)
			}
			logger.Warn("Graph credentials incomplete, calendar calls will fail until configured")
		}
		client := graph.NewClient(graph.Config{
			TenantID:     cfg.GraphTenantID,
			ClientID:     cfg.GraphClientID,
			ClientSecret: cfg.GraphClientSecret,
			ServiceUser:  cfg.GraphServiceUser,
			BaseURL:      cfg.GraphBaseURL,
		}, logger)
		return client, client, nil

	case calendarDomain.ProviderCalDAV:
		if cfg.CalDAVEndpoint == "" {
			if !cfg.IsDevelopment() {
				return nil, nil, fmt.Errorf("calendar provider %q requires CALDAV_ENDPOINT", provider)
			}
			logger.Warn("CalDAV endpoint not set, calendar calls will fail until configured")
		}
		reader := caldav.NewFreeBusyReader(caldav.Config{
			BaseURL:      cfg.CalDAVEndpoint,
			Username:     cfg.CalDAVUsername,
			Password:     cfg.CalDAVPassword,
			PathTemplate: cfg.CalDAVPathTemplate,
			WorkingHours: calendarDomain.DefaultWorkingHours(),
		}, logger)
		return reader, nil, nil

	default:
		return nil, nil, fmt.Errorf("calendar provider %q has no backend", provider)
	}
}

// policyFromConfig maps the environment solver defaults onto a policy.
func policyFromConfig(cfg *config.Config) *schedulingDomain.SchedulingPolicy {
	policy := schedulingDomain.DefaultPolicy()
	if cfg.SlotGranularityMinutes > 0 {
		policy.SlotGranularityMinutes = cfg.SlotGranularityMinutes
	}
	if cfg.MaxSolutionsToReturn > 0 {
		policy.MaxSolutionsToReturn = cfg.MaxSolutionsToReturn
	}
	if cfg.MaxDaysSpan > 0 {
		policy.MaxDaysSpan = cfg.MaxDaysSpan
	}
	policy.PreferSingleDay = cfg.PreferSingleDay
	policy.EnforceBusinessHours = cfg.EnforceBusinessHours
	if cfg.SolverTimeout > 0 {
		policy.SolverTimeout = cfg.SolverTimeout
	}
	if cfg.MaxSearchIterations > 0 {
		policy.MaxSearchIterations = cfg.MaxSearchIterations
	}
	return &policy
}
