package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"portico/internal/application"
	"portico/internal/infrastructure/config"
	"portico/internal/infrastructure/http/handler"
	"portico/internal/infrastructure/http/middleware"
	"portico/internal/infrastructure/jwt"
	"portico/internal/infrastructure/proxy"
	"portico/internal/infrastructure/ratelimit"
	"portico/internal/infrastructure/redis"
	"portico/internal/infrastructure/tracing"

	"github.com/gin-gonic/gin"
)

type Server struct {
	router      *gin.Engine
	config      *config.Config
	httpServer  *http.Server
	startTime   time.Time
	registry    *application.Registry
	cache       *application.InstanceCache
	prober      *application.Prober
	dispatcher  *proxy.Dispatcher
	jwtService  *jwt.Service
	redisClient *redis.Client
	rateLimiter ratelimit.RateLimiter
	exporter    tracing.SpanExporter
}

func NewServer(cfg *config.Config) (*Server, error) {
	slog.Debug("new service registry",
		slog.Duration("heartbeat_ttl", cfg.HeartbeatTTL),
		slog.Duration("probe_interval", cfg.ProbeInterval),
	)
	registry := application.NewRegistry(application.RegistryConfig{
		ServiceToken: cfg.ServiceToken,
		HeartbeatTTL: cfg.HeartbeatTTL,
	})

	cache := application.NewInstanceCache()
	prober := application.NewProber(application.ProberConfig{
		Interval:         cfg.ProbeInterval,
		Timeout:          cfg.ProbeTimeout,
		FailureThreshold: cfg.ProbeFailureThreshold,
		Workers:          cfg.ProbeWorkers,
	}, registry, cache)

	inflight := application.NewInflightTracker()
	selector, err := application.NewSelector(cfg.LBStrategy, inflight)
	if err != nil {
		return nil, err
	}
	slog.Info("load balancing strategy", slog.String("strategy", selector.Name()))

	breaker := application.NewCircuitBreaker(application.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
	})

	exporter := tracing.NewExporter(cfg)

	dispatcher := proxy.NewDispatcher(proxy.DispatcherConfig{
		Timeout:     cfg.DispatchTimeout,
		MaxRetries:  cfg.DispatchMaxRetries,
		BackoffBase: cfg.DispatchBackoffBase,
		BackoffMax:  cfg.DispatchBackoffMax,
	}, cache, selector, breaker, inflight, exporter)

	var jwtService *jwt.Service
	if cfg.JWTPublicKey != "" || cfg.JWTPrivateKey != "" {
		jwtService, err = jwt.NewService(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
		slog.Info("jwt service authentication enabled")
	} else {
		slog.Debug("JWT keys not configured, registry uses static service token")
	}

	var redisClient *redis.Client
	var rateLimiter ratelimit.RateLimiter

	if cfg.RateLimitEnabled {
		if cfg.RedisURL != "" {
			redisClient, err = redis.NewClient(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("failed to create redis client: %w", err)
			}
			rateLimiter = ratelimit.NewLimiter(redisClient.Client)
			slog.Info("rate limiting enabled with Redis")
		} else {
			rateLimiter = ratelimit.NewInMemoryLimiter()
			slog.Warn("rate limiting enabled with in-memory limiter (not recommended for production)")
		}
	} else {
		slog.Debug("rate limiting disabled")
	}

	s := &Server{
		config:      cfg,
		startTime:   time.Now(),
		registry:    registry,
		cache:       cache,
		prober:      prober,
		dispatcher:  dispatcher,
		jwtService:  jwtService,
		redisClient: redisClient,
		rateLimiter: rateLimiter,
		exporter:    exporter,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	if s.config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.TraceMiddleware(middleware.NewW3CTraceProvider(), s.exporter))
	s.router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: s.config.CORSAllowedOrigins,
		AllowedMethods: s.config.CORSAllowedMethods,
		AllowedHeaders: s.config.CORSAllowedHeaders,
	}))

	if s.rateLimiter != nil {
		s.router.Use(middleware.RateLimitMiddleware(s.rateLimiter, s.config))
	}

	s.router.GET("/health", handler.HealthHandler(s.startTime, s.config.Version))
	s.router.GET("/ready", handler.ReadyHandler())

	s.setupRegistryRoutes()
	s.setupDiscoveryRoutes()
	s.setupGatewayRoute()
}

func (s *Server) setupRegistryRoutes() {
	group := s.router.Group("/registry")
	jwtAuthenticated := s.jwtService != nil
	if jwtAuthenticated {
		serviceAuth := middleware.NewServiceAuthMiddleware(s.jwtService)
		group.Use(serviceAuth.Authenticate())
	}

	registryHandler := handler.NewRegistryHandler(s.registry, jwtAuthenticated)
	{
		group.POST("/register", registryHandler.Register)
		group.POST("/heartbeat", registryHandler.Heartbeat)
		group.POST("/deregister", registryHandler.Deregister)
	}
}

func (s *Server) setupDiscoveryRoutes() {
	discoveryHandler := handler.NewDiscoveryHandler(s.registry, s.prober)

	discovery := s.router.Group("/discovery")
	{
		discovery.GET("/services", discoveryHandler.ListServices)
		discovery.GET("/services/:name", discoveryHandler.GetService)
	}
}

func (s *Server) setupGatewayRoute() {
	s.router.Any("/gateway/:service/*path", s.dispatcher.Handle)
}

func (s *Server) Run() error {
	s.registry.Start()
	s.prober.Start()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.prober.Stop()
	s.registry.Stop()
	if err := s.exporter.Shutdown(ctx); err != nil {
		slog.Warn("trace exporter shutdown", slog.Any("error", err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			return err
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Registry exposes the backing registry for integration tests.
func (s *Server) Registry() *application.Registry {
	return s.registry
}

// Prober exposes the health prober so tests can force probe cycles.
func (s *Server) Prober() *application.Prober {
	return s.prober
}
