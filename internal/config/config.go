package config

import (
	"time"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/pipeline"
	"github.com/vyrodovalexey/govgate/internal/ratelimit"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Default values.
const (
	DefaultAddress           = ":8080"
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultSessionCookie     = "govgate_session"
	DefaultSessionIdleTTL    = 30 * time.Minute
	DefaultRedisKeyPrefix    = "govgate:"
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultCSRFTokenTTL      = time.Hour
	DefaultJSONMaxBodyBytes  = 1 << 20
	DefaultUpstreamTimeout   = 30 * time.Second
	DefaultAdminPolicy       = `"admin" in subject.roles`
	DefaultRolesClaim        = "roles"
	DefaultMetricsPath       = "/metrics"
	DefaultAuditRate         = 50.0
	DefaultAuditBurst        = 100
	DefaultBreakerFailures   = 5
	DefaultBreakerTimeout    = 30 * time.Second
)

// Config is the root configuration of a govgate instance.
type Config struct {
	Server          ServerConfig            `yaml:"server" json:"server"`
	Logging         observability.LogConfig `yaml:"logging" json:"logging"`
	Environment     string                  `yaml:"environment" json:"environment" validate:"omitempty,oneof=development staging production"` //nolint:lll // tag
	Debug           bool                    `yaml:"debug" json:"debug"`
	Session         SessionConfig           `yaml:"session" json:"session"`
	Redis           RedisConfig             `yaml:"redis" json:"redis"`
	CSRF            CSRFConfig              `yaml:"csrf" json:"csrf"`
	SecurityHeaders SecurityHeadersConfig   `yaml:"securityHeaders" json:"securityHeaders"`
	RateLimit       RateLimitConfig         `yaml:"rateLimit" json:"rateLimit"`
	Pipeline        PipelineConfig          `yaml:"pipeline" json:"pipeline"`
	Auth            AuthConfig              `yaml:"auth" json:"auth"`
	Admin           AdminConfig             `yaml:"admin" json:"admin"`
	CORS            CORSConfig              `yaml:"cors" json:"cors"`
	JSONParser      JSONParserConfig        `yaml:"jsonParser" json:"jsonParser"`
	Upstream        UpstreamConfig          `yaml:"upstream" json:"upstream"`
	TrustedProxies  []string                `yaml:"trustedProxies" json:"trustedProxies" validate:"dive,cidr|ip"`
	Observability   ObservabilityConfig     `yaml:"observability" json:"observability"`
	Audit           AuditConfig             `yaml:"audit" json:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address           string   `yaml:"address" json:"address" validate:"required"`
	ReadTimeout       Duration `yaml:"readTimeout" json:"readTimeout"`
	ReadHeaderTimeout Duration `yaml:"readHeaderTimeout" json:"readHeaderTimeout"`
	WriteTimeout      Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout       Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout   Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	TLSCertFile       string   `yaml:"tlsCertFile" json:"tlsCertFile" validate:"required_with=TLSKeyFile"`
	TLSKeyFile        string   `yaml:"tlsKeyFile" json:"tlsKeyFile" validate:"required_with=TLSCertFile"`
}

// SessionConfig configures the session store and cookie.
type SessionConfig struct {
	Backend    string   `yaml:"backend" json:"backend" validate:"omitempty,oneof=memory redis"`
	CookieName string   `yaml:"cookieName" json:"cookieName" validate:"required"`
	CookiePath string   `yaml:"cookiePath" json:"cookiePath"`
	IdleTTL    Duration `yaml:"idleTTL" json:"idleTTL"`
}

// RedisConfig configures the shared Redis connection used by the session
// and rate window stores.
type RedisConfig struct {
	Address     string   `yaml:"address" json:"address" validate:"omitempty,hostname_port"`
	Password    string   `yaml:"password" json:"-"`
	DB          int      `yaml:"db" json:"db" validate:"gte=0"`
	KeyPrefix   string   `yaml:"keyPrefix" json:"keyPrefix"`
	DialTimeout Duration `yaml:"dialTimeout" json:"dialTimeout"`
}

// CSRFConfig configures the CSRF guard.
type CSRFConfig struct {
	TokenTTL Duration `yaml:"tokenTTL" json:"tokenTTL"`
}

// SecurityHeadersConfig overrides the security header policy. An empty
// value in Headers or APIHeaders sets the header to the empty string;
// Remove and RemoveAPI drop headers from the policy entirely.
type SecurityHeadersConfig struct {
	Headers    map[string]string `yaml:"headers" json:"headers"`
	APIHeaders map[string]string `yaml:"apiHeaders" json:"apiHeaders"`
	Remove     []string          `yaml:"remove" json:"remove"`
	RemoveAPI  []string          `yaml:"removeAPI" json:"removeAPI"`
}

// RateLimitConfig configures the sliding-window rate limiter.
type RateLimitConfig struct {
	Store   string                 `yaml:"store" json:"store" validate:"omitempty,oneof=memory redis"`
	Classes map[string]ClassConfig `yaml:"classes" json:"classes" validate:"dive"`
	Breaker BreakerConfig          `yaml:"breaker" json:"breaker"`
}

// ClassConfig is the limit of one request class.
type ClassConfig struct {
	Max    int      `yaml:"max" json:"max" validate:"gt=0"`
	Window Duration `yaml:"window" json:"window" validate:"gt=0"`
}

// BreakerConfig configures the circuit breaker in front of the Redis
// window store.
type BreakerConfig struct {
	MaxFailures uint32   `yaml:"maxFailures" json:"maxFailures"`
	OpenTimeout Duration `yaml:"openTimeout" json:"openTimeout"`
}

// PipelineConfig configures stage groups and the route table.
type PipelineConfig struct {
	Mode   string              `yaml:"mode" json:"mode" validate:"omitempty,oneof=permissive strict"`
	Groups map[string][]string `yaml:"groups" json:"groups"`
	Routes []RouteConfig       `yaml:"routes" json:"routes" validate:"dive"`
}

// RouteConfig maps a path prefix to a stage group.
type RouteConfig struct {
	Prefix string `yaml:"prefix" json:"prefix" validate:"required,startswith=/"`
	Group  string `yaml:"group" json:"group" validate:"required"`
}

// AuthConfig configures bearer token authentication. The auth stage is
// only registered when a secret is configured.
type AuthConfig struct {
	Secret      string   `yaml:"secret" json:"-" validate:"omitempty,min=32"`
	Issuer      string   `yaml:"issuer" json:"issuer"`
	Audience    string   `yaml:"audience" json:"audience"`
	RolesClaim  string   `yaml:"rolesClaim" json:"rolesClaim"`
	PublicPaths []string `yaml:"publicPaths" json:"publicPaths" validate:"dive,startswith=/"`
}

// AdminConfig configures the admin stage.
type AdminConfig struct {
	Policy  string `yaml:"policy" json:"policy"`
	KeyHash string `yaml:"keyHash" json:"-"`
}

// CORSConfig configures the cors stage.
type CORSConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins" json:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods" json:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders" json:"allowHeaders"`
	ExposeHeaders    []string `yaml:"exposeHeaders" json:"exposeHeaders"`
	MaxAge           int      `yaml:"maxAge" json:"maxAge" validate:"gte=0"`
	AllowCredentials bool     `yaml:"allowCredentials" json:"allowCredentials"`
}

// JSONParserConfig configures the json_parser stage.
type JSONParserConfig struct {
	MaxBodyBytes int64 `yaml:"maxBodyBytes" json:"maxBodyBytes" validate:"gt=0"`
}

// UpstreamConfig configures the terminal reverse proxy.
type UpstreamConfig struct {
	URL     string   `yaml:"url" json:"url" validate:"omitempty,url"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig              `yaml:"metrics" json:"metrics"`
	Tracing observability.TracerConfig `yaml:"tracing" json:"tracing"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"omitempty,startswith=/"`
}

// AuditConfig configures the security audit sink.
type AuditConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Rate    float64 `yaml:"rate" json:"rate" validate:"gte=0"`
	Burst   int     `yaml:"burst" json:"burst" validate:"gte=0"`
}

// Default returns the configuration used for every field a file omits.
func Default() *Config {
	classes := make(map[string]ClassConfig)
	for name, limit := range ratelimit.DefaultLimits() {
		classes[name] = ClassConfig{Max: limit.Max, Window: Duration(limit.Window)}
	}

	return &Config{
		Server: ServerConfig{
			Address:           DefaultAddress,
			ReadTimeout:       Duration(DefaultReadTimeout),
			ReadHeaderTimeout: Duration(DefaultReadHeaderTimeout),
			WriteTimeout:      Duration(DefaultWriteTimeout),
			IdleTimeout:       Duration(DefaultIdleTimeout),
			ShutdownTimeout:   Duration(DefaultShutdownTimeout),
		},
		Logging:     observability.DefaultLogConfig(),
		Environment: EnvProduction,
		Session: SessionConfig{
			Backend:    BackendMemory,
			CookieName: DefaultSessionCookie,
			CookiePath: "/",
			IdleTTL:    Duration(DefaultSessionIdleTTL),
		},
		Redis: RedisConfig{
			KeyPrefix:   DefaultRedisKeyPrefix,
			DialTimeout: Duration(DefaultRedisDialTimeout),
		},
		CSRF: CSRFConfig{TokenTTL: Duration(DefaultCSRFTokenTTL)},
		RateLimit: RateLimitConfig{
			Store:   BackendMemory,
			Classes: classes,
			Breaker: BreakerConfig{
				MaxFailures: DefaultBreakerFailures,
				OpenTimeout: Duration(DefaultBreakerTimeout),
			},
		},
		Pipeline: PipelineConfig{
			Mode: string(pipeline.ModePermissive),
		},
		Auth: AuthConfig{
			RolesClaim:  DefaultRolesClaim,
			PublicPaths: []string{"/api/auth/"},
		},
		Admin: AdminConfig{Policy: DefaultAdminPolicy},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Requested-With"},
			MaxAge:       86400,
		},
		JSONParser: JSONParserConfig{MaxBodyBytes: DefaultJSONMaxBodyBytes},
		Upstream:   UpstreamConfig{Timeout: Duration(DefaultUpstreamTimeout)},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
			Tracing: observability.TracerConfig{ServiceName: "govgate", SamplingRate: 1},
		},
		Audit: AuditConfig{
			Enabled: true,
			Rate:    DefaultAuditRate,
			Burst:   DefaultAuditBurst,
		},
	}
}

// IsDevelopment reports whether the instance runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment || c.Debug
}

// RateLimits converts the configured classes to limiter limits.
func (c *Config) RateLimits() map[string]ratelimit.Limit {
	limits := make(map[string]ratelimit.Limit, len(c.RateLimit.Classes))
	for name, class := range c.RateLimit.Classes {
		limits[name] = ratelimit.Limit{Max: class.Max, Window: class.Window.Duration()}
	}
	return limits
}

// PipelineGroups returns the default stage groups with configured groups
// layered on top.
func (c *Config) PipelineGroups() map[string][]string {
	groups := pipeline.DefaultGroups()
	for name, stages := range c.Pipeline.Groups {
		groups[name] = append([]string(nil), stages...)
	}
	return groups
}

// PipelineRoutes returns the configured route table, or the default one
// when none is configured.
func (c *Config) PipelineRoutes() []pipeline.Route {
	if len(c.Pipeline.Routes) == 0 {
		return pipeline.DefaultRoutes()
	}
	routes := make([]pipeline.Route, 0, len(c.Pipeline.Routes))
	for _, r := range c.Pipeline.Routes {
		routes = append(routes, pipeline.Route{Prefix: r.Prefix, Group: r.Group})
	}
	return routes
}
