package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/hanko-field/checkout/internal/di"
	"github.com/hanko-field/checkout/internal/handlers"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/platform/secrets"
)

const shutdownTimeout = 15 * time.Second

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	if err := run(ctx, logger, startedAt); err != nil {
		logger.Error("api exited with error", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, startedAt time.Time) error {
	resolver, err := newSecretResolver(ctx, logger)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Error("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, logger.Named("checkout"))
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	router, err := buildRouter(ctx, cfg, container, logger, buildInfoFromEnv(cfg, startedAt))
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("api listening", zap.String("addr", server.Addr), zap.String("store", cfg.Checkout.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	if interval := cfg.Checkout.SweepInterval; interval > 0 {
		group.Go(func() error {
			logger.Info("challenge sweeper started", zap.Duration("interval", interval))
			return container.Services.Challenges.RunSweeper(groupCtx, interval)
		})
	}
	group.Go(func() error {
		return idempotency.RunCleanup(groupCtx, container.Idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	})

	return group.Wait()
}

func buildRouter(ctx context.Context, cfg config.Config, container *di.Container, logger *zap.Logger, build handlers.BuildInfo) (http.Handler, error) {
	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	staff, err := buildStaffAuthenticator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	scheduler := auth.NewSchedulerValidator(auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL), logger.Named("auth"))

	health := handlers.NewHealthHandlers(
		handlers.WithHealthReadiness(container.Repositories.Health()),
		handlers.WithHealthBuildInfo(build),
	)
	checkout := handlers.NewCheckoutHandlers(container.Services.Checkout,
		handlers.WithOTPRequestLimit(cfg.Checkout.OTPRequestsPerMinute, time.Minute),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(health),
		handlers.WithCheckoutRoutes(checkout.Routes),
		handlers.WithCheckoutMiddlewares(idempotencyMiddleware),
		handlers.WithAdminRoutes(handlers.NewAdminCheckoutHandlers(container.Services.Checkout).Routes),
		handlers.WithAdminMiddlewares(staff.RequireStaff(cfg.Security.StaffRoles...)),
		handlers.WithInternalRoutes(handlers.NewInternalCheckoutHandlers(container.Services.Checkout).Routes),
		handlers.WithInternalMiddlewares(scheduler.RequireScheduler(cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers)),
	), nil
}

// buildStaffAuthenticator returns an authenticator that rejects every admin call with 503 when no Firebase
// project is configured.
func buildStaffAuthenticator(ctx context.Context, cfg config.Config, logger *zap.Logger) (*auth.StaffAuthenticator, error) {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("firebase project not configured; admin routes disabled")
		return auth.NewStaffAuthenticator(nil), nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase verifier: %w", err)
	}
	return auth.NewStaffAuthenticator(verifier), nil
}

func newSecretResolver(ctx context.Context, logger *zap.Logger) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		value, err := config.Lookup(key)
		if err != nil {
			logger.Warn("environment lookup failed", zap.String("key", key), zap.Error(err))
			return ""
		}
		return strings.TrimSpace(value)
	}

	environment := lookup("API_SECURITY_ENVIRONMENT")
	fallback := lookup("API_SECRETS_FALLBACK_FILE")
	if fallback == "" && (environment == "" || strings.EqualFold(environment, "local")) {
		fallback = ".secrets.local"
	}
	opts := secrets.Options{
		DefaultProject: lookup("API_SECRETS_DEFAULT_PROJECT"),
		FallbackFile:   fallback,
		Environment:    environment,
		Logger:         logger.Named("secrets"),
	}
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts.ClientOptions = append(opts.ClientOptions, option.WithCredentialsFile(credentials))
	}
	return secrets.NewResolver(ctx, opts)
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := firstNonEmpty(os.Getenv("API_BUILD_VERSION"), os.Getenv("K_REVISION"))
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   os.Getenv("API_BUILD_COMMIT_SHA"),
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	return firstNonEmpty(cfg.Firestore.ProjectID, cfg.Firebase.ProjectID, os.Getenv("GOOGLE_CLOUD_PROJECT"))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
