package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lunaroja/api/internal/di"
	"github.com/lunaroja/api/internal/handlers"
	"github.com/lunaroja/api/internal/platform/auth"
	"github.com/lunaroja/api/internal/platform/authz"
	"github.com/lunaroja/api/internal/platform/config"
	"github.com/lunaroja/api/internal/platform/idempotency"
	"github.com/lunaroja/api/internal/platform/observability"
	"github.com/lunaroja/api/internal/platform/secrets"
	"github.com/lunaroja/api/internal/repositories"
	"github.com/lunaroja/api/internal/services"
)

const (
	firebaseVerifyTimeout = 5 * time.Second
	idempotencyRunTimeout = time.Minute
	sweepRunTimeout       = 2 * time.Minute
	orderRateWindow       = time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	containerOpts := []di.Option{di.WithBuildInfo(buildInfo)}
	if check, ok := secretManagerCheck(fetcher, envValues); ok {
		containerOpts = append(containerOpts, di.WithDependencyChecks(check))
	}
	container, err := di.NewContainer(ctx, cfg, logger, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bgWG sync.WaitGroup

	runPeriodic(bgCtx, &bgWG, cfg.Idempotency.CleanupInterval, func(ctx context.Context) {
		runCtx, cancel := context.WithTimeout(ctx, idempotencyRunTimeout)
		defer cancel()
		cleanupLogger := logger.Named("idempotency")
		removed, err := container.Idempotency.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
		if err != nil {
			cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
			return
		}
		if removed > 0 {
			cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
		}
	})

	runPeriodic(bgCtx, &bgWG, cfg.Orders.SweepInterval, func(ctx context.Context) {
		runCtx, cancel := context.WithTimeout(ctx, sweepRunTimeout)
		defer cancel()
		sweepLogger := logger.Named("watchdog")
		res, err := container.Services.Expiry.Sweep(runCtx)
		if err != nil {
			sweepLogger.Error("expiry sweep error", zap.Error(err))
			return
		}
		if res.Expired > 0 || res.Failed > 0 {
			sweepLogger.Info("expiry sweep finished",
				zap.Int("checked", res.Checked),
				zap.Int("expired", res.Expired),
				zap.Int("failed", res.Failed))
		}
	})

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	svc := container.Services
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)
	orderHandlers := handlers.NewOrderHandlers(svc.Checkout, svc.Orders, svc.Expiry,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithOrderRateLimit(cfg.Server.OrderRateLimit, orderRateWindow, time.Now),
	)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Gateway)
	internalHandlers := handlers.NewInternalHandlers(svc.Expiry)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithTrustedProxyHops(cfg.Server.TrustedProxyHops),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}

	if adminAuth := buildAdminMiddleware(ctx, logger, cfg); adminAuth != nil {
		policy, err := authz.NewPolicy()
		if err != nil {
			logger.Fatal("failed to build admin policy", zap.Error(err))
		}
		var adminOpts []handlers.AdminHandlersOption
		if container.Reconciliation != nil {
			if container.Links != nil {
				adminOpts = append(adminOpts, handlers.WithReconciliationArchive(container.Reconciliation, container.Links, 0))
			} else {
				adminOpts = append(adminOpts, handlers.WithReconciliationArchive(container.Reconciliation, nil, 0))
			}
		}
		adminHandlers := handlers.NewAdminHandlers(svc.Orders, policy, adminOpts...)
		opts = append(opts,
			handlers.WithAdminMiddlewares(adminAuth),
			handlers.WithAdminRoutes(adminHandlers.Routes),
		)
	}

	if oidcMiddleware := buildOIDCMiddleware(logger, cfg); oidcMiddleware != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(oidcMiddleware),
			handlers.WithInternalRoutes(internalHandlers.Routes),
		)
	} else {
		logger.Warn("auth: OIDC JWKS URL not configured; internal routes disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("luna roja api listening",
			zap.String("storage", cfg.Storage.Driver),
			zap.String("events", cfg.Events.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	bgCancel()
	bgWG.Wait()

	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("container close failed", zap.Error(err))
	}
}

// runPeriodic calls fn every interval until ctx is cancelled. A non-positive interval disables it.
func runPeriodic(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// secretManagerCheck probes Secret Manager with a reference that usually does not exist;
// NotFound proves the API answered.
func secretManagerCheck(fetcher *secrets.Fetcher, env map[string]string) (repositories.DependencyCheck, bool) {
	if fetcher == nil || secretProject(env) == "" {
		return repositories.DependencyCheck{}, false
	}
	const healthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, healthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}, true
}

func buildAdminMiddleware(ctx context.Context, logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("auth: firebase project not configured; admin routes disabled")
		return nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
	if err != nil {
		logger.Error("auth: firebase verifier init failed; admin routes disabled", zap.Error(err))
		return nil
	}
	return auth.NewAuthenticator(verifier).RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger.Named("oidc"))
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, adapter)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(auth.ServicePolicy{
		Audience: audience,
		Issuers:  cfg.Security.OIDC.Issuers,
		Emails:   cfg.Security.OIDC.AllowedEmails,
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func secretProject(env map[string]string) string {
	if project := strings.TrimSpace(env["API_SECRET_DEFAULT_PROJECT_ID"]); project != "" {
		return project
	}
	return strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := strings.TrimSpace(env["API_SECRET_FALLBACK_FILE"]); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if project := secretProject(env); project != "" {
		opts = append(opts, secrets.WithProject(project))
	} else {
		opts = append(opts, secrets.WithoutSecretManager())
	}
	if file := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_FILE"]); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields the selected drivers cannot run without.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"PSP.StripeAPIKey",
		"PSP.StripeWebhookSecret",
	}
	if strings.EqualFold(strings.TrimSpace(env["API_STORAGE_DRIVER"]), config.StorageDriverPostgres) {
		required = append(required, "Storage.PostgresDSN")
	}
	if strings.TrimSpace(env["API_EVENTS_KAFKA_USERNAME"]) != "" {
		required = append(required, "Events.KafkaPassword")
	}
	return required
}
