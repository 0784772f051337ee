package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/config"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/jobs"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/repositories"
	firestoreRepo "github.com/hanko-field/checkout/internal/repositories/firestore"
	"github.com/hanko-field/checkout/internal/repositories/memory"
	"github.com/hanko-field/checkout/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Inventory  services.InventoryService
	Counters   services.CounterService
	Orders     services.OrderService
	Challenges services.ChallengeRegistry
	Notifier   services.NotificationDispatcher
	Checkout   services.CheckoutService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store

	pubsub *pubsub.Client
}

// Option customises container construction, primarily for tests.
type Option func(*options)

type options struct {
	registry      repositories.Registry
	publisher     services.NotificationPublisher
	idempotency   idempotency.Store
	meterProvider metric.MeterProvider
	clock         func() time.Time
}

// WithRegistry supplies a prebuilt repository registry instead of building one from config.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithNotificationPublisher overrides the publisher used by the notification dispatcher.
func WithNotificationPublisher(publisher services.NotificationPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithIdempotencyStore overrides the idempotency store.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *options) {
		o.idempotency = store
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for checkout metrics.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = provider
	}
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. With Checkout.Store=firestore, repositories and
// idempotency records live in Firestore; otherwise everything stays in process memory.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}

	c := &Container{Config: cfg}

	var checks []repositories.DependencyCheck
	if o.publisher == nil {
		publisher, check, err := c.buildPublisher(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		o.publisher = publisher
		if check != nil {
			checks = append(checks, *check)
		}
	}

	if o.registry == nil {
		reg, store, err := buildRegistry(cfg, o.idempotency, checks)
		if err != nil {
			c.closePubSub(logger)
			return nil, err
		}
		o.registry = reg
		o.idempotency = store
	}
	if o.idempotency == nil {
		o.idempotency = idempotency.NewMemoryStore()
	}
	c.Repositories = o.registry
	c.Idempotency = o.idempotency

	svc, err := buildServices(cfg, o, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close flushes pending notifications and releases repository and Pub/Sub clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Notifier != nil {
		if err := c.Services.Notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
		c.pubsub = nil
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) closePubSub(logger *zap.Logger) {
	if c.pubsub == nil {
		return
	}
	if err := c.pubsub.Close(); err != nil {
		logger.Warn("pubsub close error", zap.Error(err))
	}
	c.pubsub = nil
}

func (c *Container) buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.NotificationPublisher, *repositories.DependencyCheck, error) {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		logger.Info("pubsub project not configured; notifications are logged only")
		return jobs.NewLogNotificationPublisher(logger.Named("notifications")), nil, nil
	}

	var clientOpts []option.ClientOption
	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		clientOpts = append(clientOpts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build pubsub client: %w", err)
	}
	c.pubsub = client

	topic := client.Topic(cfg.PubSub.NotificationTopic)
	publisher, err := jobs.NewPubSubNotificationPublisher(topic)
	if err != nil {
		c.closePubSub(logger)
		return nil, nil, fmt.Errorf("build notification publisher: %w", err)
	}
	return publisher, &repositories.DependencyCheck{Name: "pubsub", Check: jobs.TopicCheck(topic)}, nil
}

func buildRegistry(cfg config.Config, store idempotency.Store, checks []repositories.DependencyCheck) (repositories.Registry, idempotency.Store, error) {
	switch cfg.Checkout.Store {
	case config.StoreFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestoreRepo.NewRegistry(provider, checks...)
		if err != nil {
			return nil, nil, fmt.Errorf("build firestore registry: %w", err)
		}
		if store == nil {
			fsStore, err := idempotency.NewFirestoreStore(provider)
			if err != nil {
				return nil, nil, fmt.Errorf("build idempotency store: %w", err)
			}
			store = fsStore
		}
		return reg, store, nil
	default:
		reg, err := memory.NewRegistry(memory.DefaultSeed(), checks...)
		if err != nil {
			return nil, nil, fmt.Errorf("build memory registry: %w", err)
		}
		return reg, store, nil
	}
}

func buildServices(cfg config.Config, o options, logger *zap.Logger) (Services, error) {
	reg := o.registry
	events := observability.EventLogger(logger)

	metrics, err := observability.NewCheckoutMetrics(o.meterProvider)
	if err != nil {
		return Services{}, fmt.Errorf("build checkout metrics: %w", err)
	}

	var svc Services
	svc.Inventory, err = services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     o.clock,
		Logger:    events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}

	svc.Counters, err = services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      o.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Counters: svc.Counters,
		Clock:    o.clock,
		Logger:   events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Notifier, err = services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Publisher: o.publisher,
		Timeout:   cfg.Checkout.NotificationTimeout,
		Clock:     o.clock,
		Logger:    events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}

	svc.Challenges, err = services.NewChallengeRegistry(services.ChallengeRegistryDeps{
		Notifier:   svc.Notifier,
		Metrics:    metrics,
		CodeLength: cfg.Checkout.OTPLength,
		Clock:      o.clock,
		Logger:     events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build challenge registry: %w", err)
	}

	deps := services.CheckoutServiceDeps{
		Inventory:    svc.Inventory,
		Orders:       svc.Orders,
		Payments:     reg.Payments(),
		Shipments:    reg.Shipments(),
		Vendors:      reg.Vendors(),
		Challenges:   svc.Challenges,
		Notifier:     svc.Notifier,
		Metrics:      metrics,
		Currency:     cfg.Checkout.Currency,
		ChallengeTTL: cfg.Checkout.OTPTTL,
		Clock:        o.clock,
		Logger:       events,
	}
	if key := strings.TrimSpace(cfg.PSP.StripeAPIKey); key != "" {
		resolver, err := payments.NewStripeStatusResolver(payments.StripeStatusConfig{
			APIKey: key,
			Logger: payments.StripeLogger(events),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build stripe status resolver: %w", err)
		}
		deps.PaymentStatus = resolver
	}
	svc.Checkout, err = services.NewCheckoutService(deps)
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	return svc, nil
}
