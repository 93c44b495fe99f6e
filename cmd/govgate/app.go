package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/govgate/internal/audit"
	"github.com/vyrodovalexey/govgate/internal/config"
	"github.com/vyrodovalexey/govgate/internal/csrf"
	"github.com/vyrodovalexey/govgate/internal/health"
	"github.com/vyrodovalexey/govgate/internal/middleware"
	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/pipeline"
	"github.com/vyrodovalexey/govgate/internal/proxy"
	"github.com/vyrodovalexey/govgate/internal/ratelimit"
	"github.com/vyrodovalexey/govgate/internal/ratelimit/store"
	"github.com/vyrodovalexey/govgate/internal/security"
	"github.com/vyrodovalexey/govgate/internal/server"
	"github.com/vyrodovalexey/govgate/internal/session"
)

const (
	redisCheckCacheTTL    = 5 * time.Second
	upstreamCheckTimeout  = 2 * time.Second
	upstreamCheckCacheTTL = 5 * time.Second
)

// application holds all application components.
type application struct {
	config   *config.Config
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	audit    audit.Logger
	redis    redis.UniversalClient
	sessions session.Store
	windows  store.Store
	limiter  *ratelimit.Limiter
	policy   *security.Policy
	registry *pipeline.Registry
	proxy    *proxy.ReverseProxy
	health   *health.Handler
	server   *server.Server
	reload   *reloadMetrics
}

// newApplication wires every component from cfg. On error, anything
// already opened is closed again.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	tracer, err := observability.NewTracer(ctx, cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	app.metrics = observability.NewMetrics(observability.DefaultNamespace)
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)
	registerMetrics(app.metrics)
	app.reload = newReloadMetrics(app.metrics)

	app.audit = newAuditLogger(cfg.Audit, logger, app.metrics)

	if err := app.initStores(ctx); err != nil {
		app.closeStores()
		return nil, err
	}

	app.limiter = ratelimit.NewLimiter(app.windows,
		ratelimit.WithLimits(cfg.RateLimits()),
		ratelimit.WithLogger(logger),
	)
	app.policy = security.NewPolicy(
		security.WithDevelopment(cfg.IsDevelopment()),
		security.WithOverrides(headerOverrides(cfg.SecurityHeaders)),
		security.WithLogger(logger),
	)

	if err := app.initRegistry(); err != nil {
		app.closeStores()
		return nil, err
	}

	app.proxy, err = proxy.New(cfg.Upstream.URL,
		proxy.WithProxyLogger(logger),
		proxy.WithTimeout(cfg.Upstream.Timeout.Duration()),
	)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to create upstream proxy: %w", err)
	}

	app.health = health.NewHandler(
		health.WithLogger(logger),
		health.WithVersion(version),
	)
	app.registerHealthChecks()

	app.server = server.New(cfg.Server, app.serverOptions()...)

	logger.Info("application initialized",
		observability.String("session_backend", cfg.Session.Backend),
		observability.String("ratelimit_store", cfg.RateLimit.Store),
		observability.String("pipeline_mode", string(app.registry.Mode())),
		observability.Bool("auth", app.registry.Has(pipeline.StageAuth)),
		observability.Bool("upstream", app.proxy.Target() != nil),
	)

	return app, nil
}

// registrable is implemented by the per-package metric singletons.
type registrable interface {
	MustRegister(registry *prometheus.Registry)
	Init()
}

// registerMetrics exposes the package metrics on the /metrics registry.
func registerMetrics(m *observability.Metrics) {
	for _, pm := range []registrable{
		pipeline.GetPipelineMetrics(),
		csrf.GetCSRFMetrics(),
		security.GetSecurityMetrics(),
		ratelimit.GetRateLimitMetrics(),
		store.GetStoreMetrics(),
		session.GetSessionMetrics(),
		middleware.GetMiddlewareMetrics(),
		health.GetHealthMetrics(),
		proxy.GetProxyMetrics(),
	} {
		pm.MustRegister(m.Registry())
		pm.Init()
	}
}

func newAuditLogger(cfg config.AuditConfig, logger observability.Logger, m *observability.Metrics) audit.Logger {
	if !cfg.Enabled {
		return audit.NopLogger()
	}

	auditMetrics := audit.NewMetricsWithRegisterer(observability.DefaultNamespace, m.Registry())
	auditMetrics.Init()

	return audit.NewLogger(
		audit.WithLogger(logger),
		audit.WithMetrics(auditMetrics),
		audit.WithThrottle(cfg.Rate, cfg.Burst),
	)
}

func headerOverrides(cfg config.SecurityHeadersConfig) security.Overrides {
	return security.Overrides{
		Headers:    cfg.Headers,
		APIHeaders: cfg.APIHeaders,
		Remove:     cfg.Remove,
		RemoveAPI:  cfg.RemoveAPI,
	}
}

// initStores opens the session and rate window stores. A Redis outage at
// startup is fatal for Redis sessions; rate windows fall back to memory
// through the breaker.
func (app *application) initStores(ctx context.Context) error {
	cfg := app.config

	if cfg.Session.Backend == config.BackendRedis || cfg.RateLimit.Store == config.BackendRedis {
		app.redis = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout.Duration(),
		})

		err := store.Connect(ctx, app.redis, store.ConnectConfig{
			Address:     cfg.Redis.Address,
			DialTimeout: cfg.Redis.DialTimeout.Duration(),
		}, app.logger)
		if err != nil {
			if cfg.Session.Backend == config.BackendRedis {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			app.logger.Warn("redis unavailable at startup, rate limits fall back to memory",
				observability.String("address", cfg.Redis.Address),
				observability.Error(err),
			)
		}
	}

	if cfg.Session.Backend == config.BackendRedis {
		app.sessions = session.NewRedisStore(app.redis,
			session.WithRedisPrefix(cfg.Redis.KeyPrefix),
			session.WithRedisIdleTTL(cfg.Session.IdleTTL.Duration()),
			session.WithRedisLogger(app.logger),
		)
	} else {
		app.sessions = session.NewMemoryStore(
			session.WithIdleTTL(cfg.Session.IdleTTL.Duration()),
			session.WithMemoryLogger(app.logger),
		)
	}

	if cfg.RateLimit.Store == config.BackendRedis {
		primary := store.NewRedisStore(app.redis,
			store.WithRedisPrefix(cfg.Redis.KeyPrefix+store.DefaultRedisPrefix),
			store.WithRedisLogger(app.logger),
		)
		app.windows = store.NewFallbackStore(primary, store.NewMemoryStore(),
			store.BreakerConfig{
				MaxFailures: cfg.RateLimit.Breaker.MaxFailures,
				OpenTimeout: cfg.RateLimit.Breaker.OpenTimeout.Duration(),
			},
			store.WithFallbackLogger(app.logger),
		)
	} else {
		app.windows = store.NewMemoryStore()
	}

	return nil
}

// initRegistry registers every configured stage. The auth stage is only
// registered when a signing secret is configured; groups naming it then
// skip it in permissive mode and fail to build in strict mode.
func (app *application) initRegistry() error {
	cfg := app.config

	mode, err := pipeline.ParseMode(cfg.Pipeline.Mode)
	if err != nil {
		return err
	}

	registry := pipeline.NewRegistry(
		pipeline.WithMode(mode),
		pipeline.WithLogger(app.logger),
	)
	for group, stages := range cfg.PipelineGroups() {
		registry.DefineGroup(group, stages...)
	}

	guard := csrf.New(
		csrf.WithTTL(cfg.CSRF.TokenTTL.Duration()),
		csrf.WithLogger(app.logger),
		csrf.WithAudit(app.audit),
	)
	registry.Register(pipeline.StageCSRF, stage(guard.Middleware()), pipeline.PriorityCSRF)

	registry.Register(pipeline.StageSecurityHeaders, stage(app.policy.Middleware()),
		pipeline.PrioritySecurityHeaders)

	registry.Register(pipeline.StageRateLimit, stage(ratelimit.Middleware(app.limiter,
		ratelimit.WithMiddlewareLogger(app.logger),
		ratelimit.WithAudit(app.audit),
	)), pipeline.PriorityRateLimit)

	if cfg.Auth.Secret != "" {
		auth, authErr := middleware.Auth(middleware.AuthConfig{
			Secret:      cfg.Auth.Secret,
			Issuer:      cfg.Auth.Issuer,
			Audience:    cfg.Auth.Audience,
			RolesClaim:  cfg.Auth.RolesClaim,
			PublicPaths: cfg.Auth.PublicPaths,
		}, middleware.WithAuthLogger(app.logger), middleware.WithAuthAudit(app.audit))
		if authErr != nil {
			return fmt.Errorf("failed to configure auth stage: %w", authErr)
		}
		registry.Register(pipeline.StageAuth, stage(auth), pipeline.PriorityAuth)
	}

	admin, err := middleware.Admin(middleware.AdminConfig{
		Policy:  cfg.Admin.Policy,
		KeyHash: cfg.Admin.KeyHash,
	}, middleware.WithAdminLogger(app.logger), middleware.WithAdminAudit(app.audit))
	if err != nil && !errors.Is(err, middleware.ErrAdminNotConfigured) {
		return fmt.Errorf("failed to configure admin stage: %w", err)
	}
	if err == nil {
		registry.Register(pipeline.StageAdmin, stage(admin), pipeline.PriorityAdmin)
	}

	registry.Register(pipeline.StageCORS, stage(middleware.CORSFromConfig(&cfg.CORS)), pipeline.PriorityCORS)

	registry.Register(pipeline.StageJSONParser, stage(middleware.JSONParser(
		middleware.WithMaxBodyBytes(cfg.JSONParser.MaxBodyBytes),
		middleware.WithJSONParserLogger(app.logger),
	)), pipeline.PriorityJSONParser)

	registry.Register(pipeline.StageInputSanitizer, stage(middleware.InputSanitizer(
		middleware.WithSanitizerMaxBodyBytes(cfg.JSONParser.MaxBodyBytes),
	)), pipeline.PriorityInputSanitizer)

	app.registry = registry
	return nil
}

// stage adapts a built middleware to a registry factory.
func stage(mw func(http.Handler) http.Handler) pipeline.Factory {
	return func() (pipeline.Middleware, error) {
		return mw, nil
	}
}

// registerHealthChecks adds readiness checks for the external
// dependencies in use.
func (app *application) registerHealthChecks() {
	if app.redis != nil {
		app.health.AddCheck(health.NewCachedHealthCheck(
			health.RedisHealthCheck("redis", app.redis), redisCheckCacheTTL))
	}

	if target := app.proxy.Target(); target != nil {
		app.health.AddCheck(health.NewCachedHealthCheck(
			health.TCPHealthCheck("upstream", upstreamAddress(target.Scheme, target.Host), upstreamCheckTimeout),
			upstreamCheckCacheTTL))
	}
}

// upstreamAddress adds the scheme's default port to host when it has none.
func upstreamAddress(scheme, host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := "80"
	if scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(host, port)
}

// serverOptions assembles the listener: probes, metrics, the admin API
// behind the admin group, and the pipeline router for everything else.
// Pipeline requests carry a session for the csrf and rate_limit stages.
func (app *application) serverOptions() []server.Option {
	cfg := app.config

	sessions := session.Middleware(app.sessions,
		session.WithCookieName(cfg.Session.CookieName),
		session.WithCookiePath(cfg.Session.CookiePath),
		session.WithLogger(app.logger),
	)
	router := pipeline.NewRouter(app.registry, app.proxy, cfg.PipelineRoutes())

	opts := []server.Option{
		server.WithLogger(app.logger),
		server.WithRouteHandler(sessions(router)),
		server.WithHealth(app.health),
		server.WithTracer(app.tracer),
		server.WithClientIPExtractor(middleware.NewClientIPExtractor(cfg.TrustedProxies)),
	}

	if app.registry.Has(pipeline.StageAdmin) {
		adminAPI := server.NewAdminAPI(app.registry, app.policy, app.limiter,
			server.WithAdminLogger(app.logger),
			server.WithAdminAudit(app.audit),
		)
		adminRouter := pipeline.NewRouter(app.registry, adminAPI, []pipeline.Route{
			{Prefix: server.AdminPathPrefix, Group: pipeline.GroupAdmin},
		})
		opts = append(opts, server.WithAdminHandler(adminRouter))
	} else {
		app.logger.Warn("admin stage not configured, admin API disabled")
	}

	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(app.metrics, cfg.Observability.Metrics.Path))
	}

	return opts
}
