package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/lunaroja/api/internal/payments"
	"github.com/lunaroja/api/internal/platform/beacon"
	"github.com/lunaroja/api/internal/platform/config"
	pfirestore "github.com/lunaroja/api/internal/platform/firestore"
	"github.com/lunaroja/api/internal/platform/idempotency"
	"github.com/lunaroja/api/internal/platform/jobs"
	"github.com/lunaroja/api/internal/platform/observability"
	"github.com/lunaroja/api/internal/platform/storage"
	"github.com/lunaroja/api/internal/repositories"
	firestorerepo "github.com/lunaroja/api/internal/repositories/firestore"
	"github.com/lunaroja/api/internal/repositories/memory"
	"github.com/lunaroja/api/internal/repositories/postgres"
	"github.com/lunaroja/api/internal/services"
)

const (
	idempotencyCollection = "idempotency_keys"
	dependencyTimeout     = 3 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart        services.CartValidator
	Shipping    services.ShippingRates
	Orders      services.OrderService
	Checkout    services.CheckoutService
	Gateway     services.GatewayService
	Expiry      services.ExpiryWatchdog
	Conversions services.ConversionTracker
	System      services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	Idempotency    idempotency.Store
	Reconciliation *storage.Archive
	Links          *storage.URLSigner
	Queue          *jobs.WorkQueue

	logger  *zap.Logger
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	registry repositories.Registry
	payments payments.Provider
	build    services.BuildInfo
	clock    func() time.Time
	checks   []repositories.DependencyCheck
}

// WithRegistry supplies a prebuilt repository registry instead of the configured driver.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithPaymentProvider replaces the Stripe provider.
func WithPaymentProvider(p payments.Provider) Option {
	return func(o *options) { o.payments = p }
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// WithClock overrides the clock handed to every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithDependencyChecks adds readiness checks owned by the caller, such as Secret Manager.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *options) { o.checks = append(o.checks, checks...) }
}

// NewContainer constructs the runtime dependencies. Anything partially built is
// released when a later step fails.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (c *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c = &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
			c = nil
		}
	}()

	events := observability.NewEventLogger(logger)
	checks := append([]repositories.DependencyCheck(nil), o.checks...)

	reg := o.registry
	if reg == nil {
		reg, err = c.openRegistry(ctx, cfg)
		if err != nil {
			return c, err
		}
	} else {
		c.Idempotency = idempotency.NewMemoryStore()
	}
	c.Repositories = reg
	if p, ok := reg.(pinger); ok {
		checks = append(checks, repositories.DependencyCheck{Name: "store", Check: p.Ping})
	}

	if o.registry == nil && cfg.Storage.Driver != config.StorageDriverMemory && cfg.Storage.CatalogSeedFile != "" {
		products, err := repositories.LoadCatalogFile(cfg.Storage.CatalogSeedFile)
		if err != nil {
			return c, err
		}
		if err := repositories.SeedCatalog(ctx, reg.Inventory(), products); err != nil {
			return c, err
		}
	}

	dispatcher, eventChecks, err := c.buildDispatcher(ctx, cfg, events)
	if err != nil {
		return c, err
	}
	checks = append(checks, eventChecks...)

	c.Queue = jobs.NewWorkQueue(jobs.WorkQueueConfig{
		Workers:  cfg.Queue.Workers,
		Capacity: cfg.Queue.Capacity,
		Logger:   events,
	})

	archiveChecks, err := c.buildReconciliation(ctx, cfg, o.clock)
	if err != nil {
		return c, err
	}
	checks = append(checks, archiveChecks...)

	provider := o.payments
	if provider == nil {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Currency:      cfg.PSP.Currency,
			LookupTimeout: cfg.PSP.LookupTimeout,
			Logger:        payments.StripeLogger(events),
			Clock:         o.clock,
		})
		if err != nil {
			return c, fmt.Errorf("build stripe provider: %w", err)
		}
		provider = stripe
	}

	health, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithDependencyTimeout(dependencyTimeout),
		repositories.WithDependencyClock(o.clock),
	)
	if err != nil {
		return c, fmt.Errorf("build health repository: %w", err)
	}

	svc, err := buildServices(cfg, reg, serviceInputs{
		dispatcher: dispatcher,
		queue:      c.Queue,
		provider:   provider,
		recorder:   c.recorder(),
		health:     health,
		build:      o.build,
		clock:      o.clock,
		events:     events,
	})
	if err != nil {
		return c, err
	}
	c.Services = svc
	return c, nil
}

func (c *Container) openRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		c.addCloser("firestore", provider.Close)
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("dial firestore: %w", err)
		}
		reg, err := firestorerepo.NewRegistry(provider)
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		c.Idempotency = idempotency.NewFirestoreStore(client, idempotencyCollection)
		return reg, nil

	case config.StorageDriverPostgres:
		reg, err := postgres.Open(ctx, cfg.Storage.PostgresDSN,
			postgres.WithLogger(c.logger),
			postgres.WithAutoMigrate(),
		)
		if err != nil {
			return nil, err
		}
		c.addCloser("postgres", reg.Close)
		store := idempotency.NewGormStore(reg.DB())
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		c.Idempotency = store
		return reg, nil

	default:
		var seed []memory.Option
		if cfg.Storage.CatalogSeedFile != "" {
			products, err := repositories.LoadCatalogFile(cfg.Storage.CatalogSeedFile)
			if err != nil {
				return nil, err
			}
			seed = append(seed, memory.WithProducts(products...))
		}
		c.Idempotency = idempotency.NewMemoryStore()
		return memory.New(seed...), nil
	}
}

func (c *Container) buildDispatcher(ctx context.Context, cfg config.Config, events observability.EventFunc) (services.NotificationDispatcher, []repositories.DependencyCheck, error) {
	fanout := jobs.Fanout{jobs.LogDispatcher{Logger: events}}
	var checks []repositories.DependencyCheck

	switch cfg.Events.Driver {
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSubProject)
		if err != nil {
			return nil, nil, fmt.Errorf("dial pubsub: %w", err)
		}
		topic := client.Topic(cfg.Events.PubSubTopic)
		c.addCloser("pubsub", func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		publisher, err := jobs.NewPubSubLifecyclePublisher(topic)
		if err != nil {
			return nil, nil, err
		}
		fanout = append(fanout, publisher)
		checks = append(checks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", cfg.Events.PubSubTopic)
				}
				return nil
			},
		})

	case config.EventsDriverKafka:
		publisher, err := jobs.NewKafkaLifecyclePublisher(jobs.KafkaConfig{
			Brokers:  cfg.Events.KafkaBrokers,
			Topic:    cfg.Events.KafkaTopic,
			ClientID: "lunaroja-api",
			Username: cfg.Events.KafkaUsername,
			Password: cfg.Events.KafkaPassword,
		})
		if err != nil {
			return nil, nil, err
		}
		c.addCloser("kafka", func(context.Context) error {
			publisher.Close()
			return nil
		})
		fanout = append(fanout, publisher)
		checks = append(checks, repositories.DependencyCheck{Name: "kafka", Check: publisher.Ping})
	}
	return fanout, checks, nil
}

func (c *Container) buildReconciliation(ctx context.Context, cfg config.Config, clock func() time.Time) ([]repositories.DependencyCheck, error) {
	bucket := strings.TrimSpace(cfg.Storage.ReconciliationBucket)
	if bucket == "" {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial cloud storage: %w", err)
	}
	c.addCloser("storage", func(context.Context) error { return client.Close() })

	archive, err := storage.NewArchive(client, bucket, storage.WithArchiveClock(clock))
	if err != nil {
		return nil, err
	}
	c.Reconciliation = archive

	if key := strings.TrimSpace(cfg.Storage.SignerKey); key != "" {
		signer, err := storage.NewServiceAccountSigner([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("parse storage signer key: %w", err)
		}
		links, err := storage.NewURLSigner(signer, clock)
		if err != nil {
			return nil, err
		}
		c.Links = links
	}

	return []repositories.DependencyCheck{{
		Name: "reconciliation_archive",
		Check: func(ctx context.Context) error {
			_, err := client.Bucket(bucket).Attrs(ctx)
			return err
		},
	}}, nil
}

// recorder keeps a nil archive out of the interface so the gateway falls back to logging.
func (c *Container) recorder() services.ReconciliationRecorder {
	if c.Reconciliation == nil {
		return nil
	}
	return c.Reconciliation
}

type serviceInputs struct {
	dispatcher services.NotificationDispatcher
	queue      *jobs.WorkQueue
	provider   payments.Provider
	recorder   services.ReconciliationRecorder
	health     repositories.HealthRepository
	build      services.BuildInfo
	clock      func() time.Time
	events     observability.EventFunc
}

func buildServices(cfg config.Config, reg repositories.Registry, in serviceInputs) (Services, error) {
	var svc Services

	cart, err := services.NewCartValidator(services.CartValidatorDeps{
		Inventory: reg.Inventory(),
		Logger:    in.events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart validator: %w", err)
	}
	svc.Cart = cart

	methods := make([]services.ShippingMethod, 0, len(cfg.Shipping.Methods))
	for _, m := range cfg.Shipping.Methods {
		methods = append(methods, services.ShippingMethod{ID: m.ID, Label: m.Label, Cost: m.Cost})
	}
	shipping, err := services.NewShippingRates(methods)
	if err != nil {
		return Services{}, fmt.Errorf("build shipping rates: %w", err)
	}
	svc.Shipping = shipping

	if url := strings.TrimSpace(cfg.Beacon.URL); url != "" {
		client, err := beacon.NewClient(url, cfg.Beacon.Timeout, nil)
		if err != nil {
			return Services{}, fmt.Errorf("build conversion beacon: %w", err)
		}
		tracker, err := services.NewConversionTracker(services.ConversionTrackerDeps{
			Sender: client,
			Queue:  in.queue,
			Clock:  in.clock,
			Logger: in.events,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build conversion tracker: %w", err)
		}
		svc.Conversions = tracker
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Notifications: in.dispatcher,
		Queue:         in.queue,
		Conversions:   svc.Conversions,
		Transfer: services.TransferAccount{
			BankName:      cfg.Transfer.BankName,
			AccountHolder: cfg.Transfer.AccountHolder,
			AccountNumber: cfg.Transfer.AccountNumber,
			Alias:         cfg.Transfer.Alias,
		},
		TransferWindow:          cfg.Orders.TransferWindow,
		TransferDiscountPercent: cfg.Orders.TransferDiscountPercent,
		Clock:                   in.clock,
		Logger:                  in.events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Validator:  cart,
		Orders:     orders,
		Shipping:   shipping,
		Payments:   in.provider,
		SuccessURL: cfg.PSP.SuccessURL,
		FailureURL: cfg.PSP.FailureURL,
		Logger:     in.events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	gateway, err := services.NewGatewayService(services.GatewayServiceDeps{
		Provider:       in.provider,
		Orders:         orders,
		Reconciliation: in.recorder,
		Clock:          in.clock,
		Logger:         in.events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build gateway service: %w", err)
	}
	svc.Gateway = gateway

	expiry, err := services.NewExpiryWatchdog(services.ExpiryWatchdogDeps{
		Orders:         reg.Orders(),
		Lifecycle:      orders,
		TransferWindow: cfg.Orders.TransferWindow,
		BatchSize:      cfg.Orders.SweepBatchSize,
		Concurrency:    cfg.Orders.SweepConcurrency,
		Clock:          in.clock,
		Logger:         in.events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build expiry watchdog: %w", err)
	}
	svc.Expiry = expiry

	build := in.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: in.health,
		Clock:            in.clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	return svc, nil
}

func (c *Container) addCloser(name string, fn func(context.Context) error) {
	c.closers = append(c.closers, namedCloser{name: name, close: fn})
}

// Close drains background work, then releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Queue != nil {
		if err := c.Queue.Drain(ctx); err != nil && !errors.Is(err, jobs.ErrQueueClosed) {
			errs = append(errs, fmt.Errorf("drain work queue: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		closer := c.closers[i]
		if err := closer.close(ctx); err != nil {
			c.logger.Warn("close dependency", zap.String("dependency", closer.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", closer.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
