package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/lessonlab/internal/cache"
	cacheredis "github.com/davidbz/lessonlab/internal/cache/redis"
	"github.com/davidbz/lessonlab/internal/chat"
	"github.com/davidbz/lessonlab/internal/config"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/http"
	"github.com/davidbz/lessonlab/internal/http/middleware"
	"github.com/davidbz/lessonlab/internal/observability"
	"github.com/davidbz/lessonlab/internal/provider/echo"
	"github.com/davidbz/lessonlab/internal/provider/openai"
	"github.com/davidbz/lessonlab/internal/provider/registry"
	"github.com/davidbz/lessonlab/internal/research"
	"github.com/davidbz/lessonlab/internal/retry"
	"github.com/davidbz/lessonlab/internal/routing"
	"github.com/davidbz/lessonlab/internal/session"
)

// Cache backends selected by CACHE_BACKEND.
const (
	cacheBackendMemory = "memory"
	cacheBackendRedis  = "redis"
)

func main() {
	container := buildContainer()

	if err := container.Invoke(run); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

// run serves until SIGINT or SIGTERM, then aborts in-flight calls and drains
// the server.
func run(
	logger *zap.Logger,
	server *http.Server,
	responses *cache.Cache,
	cacheCfg *cache.Config,
	serverCfg *config.ServerConfig,
	client *chat.Client,
	rdb redis.UniversalClient,
) error {
	defer func() { _ = logger.Sync() }()
	defer func() { _ = rdb.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go responses.Janitor(ctx, cacheCfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()

	if aborted := client.AbortAll(shutdownCtx); aborted > 0 {
		observability.FromContext(shutdownCtx).Info("aborted in-flight requests", observability.Int("count", aborted))
	}

	return server.Shutdown(shutdownCtx)
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(func() domain.EventPublisher {
		return observability.NewEventBus()
	}); err != nil {
		log.Fatalf("Failed to provide event bus: %v", err)
	}

	// Provider Registry
	if err := container.Provide(func() domain.ProviderRegistry {
		return registry.NewRegistry()
	}); err != nil {
		log.Fatalf("Failed to provide registry: %v", err)
	}

	// Backends
	if err := container.Provide(openai.NewClient); err != nil {
		log.Fatalf("Failed to provide HTTP backend: %v", err)
	}
	if err := container.Provide(openai.NewSDKProvider); err != nil {
		log.Fatalf("Failed to provide OpenAI SDK backend: %v", err)
	}
	if err := container.Provide(func() *echo.Provider {
		return echo.NewProvider()
	}); err != nil {
		log.Fatalf("Failed to provide echo backend: %v", err)
	}

	// Register backends with registry (invoked for side effects)
	if err := container.Invoke(func(
		reg domain.ProviderRegistry,
		httpBackend *openai.Client,
		sdkBackend *openai.SDKProvider,
		echoBackend *echo.Provider,
	) error {
		ctx := context.Background()

		for _, p := range []domain.Provider{httpBackend, sdkBackend, echoBackend} {
			if err := reg.Register(ctx, p); err != nil {
				return fmt.Errorf("failed to register %s backend: %w", p.Name(), err)
			}
		}
		return nil
	}); err != nil {
		log.Fatalf("Failed to register backends: %v", err)
	}

	if err := container.Provide(func(reg domain.ProviderRegistry, cfg *config.ProviderConfig) domain.Router {
		return routing.NewRouter(reg, cfg.Backend)
	}); err != nil {
		log.Fatalf("Failed to provide router: %v", err)
	}

	// Storage
	if err := container.Provide(func(cfg *config.RedisConfig) redis.UniversalClient {
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}); err != nil {
		log.Fatalf("Failed to provide redis client: %v", err)
	}
	if err := container.Provide(newResponseCache); err != nil {
		log.Fatalf("Failed to provide response cache: %v", err)
	}
	if err := container.Provide(func(
		rdb redis.UniversalClient,
		redisCfg *config.RedisConfig,
		cfg *session.Config,
		events domain.EventPublisher,
	) *session.Store {
		return session.NewStore(rdb, redisCfg.KeyPrefix, cfg, session.WithEventPublisher(events))
	}, dig.As(new(http.SessionStore))); err != nil {
		log.Fatalf("Failed to provide session store: %v", err)
	}

	// Domain Services
	if err := container.Provide(func(
		reg domain.ProviderRegistry,
		router domain.Router,
		providerCfg *config.ProviderConfig,
		chatCfg *config.ChatConfig,
		events domain.EventPublisher,
	) *chat.Client {
		return chat.NewClient(reg, router, providerCfg.APIConfig(),
			chat.WithRequestTimeout(chatCfg.RequestTimeout),
			chat.WithEventPublisher(events),
		)
	}); err != nil {
		log.Fatalf("Failed to provide chat client: %v", err)
	}
	if err := container.Provide(func(
		client *chat.Client,
		responses *cache.Cache,
		policy *retry.Policy,
		events domain.EventPublisher,
	) *research.Service {
		return research.NewService(client, responses, *policy, events)
	}); err != nil {
		log.Fatalf("Failed to provide research service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

func newResponseCache(
	cfg *cache.Config,
	rdb redis.UniversalClient,
	redisCfg *config.RedisConfig,
) (*cache.Cache, error) {
	var store cache.Store
	switch cfg.Backend {
	case cacheBackendMemory:
		store = cache.NewMemoryStore()
	case cacheBackendRedis:
		store = cacheredis.NewStore(rdb, redisCfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	observability.FromContext(context.Background()).Info("response cache ready",
		observability.String("backend", cfg.Backend))

	return cache.New(store, cfg.Options()...), nil
}
