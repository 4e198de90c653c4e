package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               int      `envconfig:"PORT" default:"8080"`
	Env                string   `envconfig:"ENV" default:"development"`
	LogLevel           string   `envconfig:"LOG_LEVEL" default:"debug"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Origin,Content-Type,Accept,Authorization,X-Request-ID"`

	ServiceToken string        `envconfig:"SERVICE_TOKEN" required:"true"`
	HeartbeatTTL time.Duration `envconfig:"HEARTBEAT_TTL" default:"30s"`

	ProbeInterval         time.Duration `envconfig:"PROBE_INTERVAL" default:"15s"`
	ProbeTimeout          time.Duration `envconfig:"PROBE_TIMEOUT" default:"5s"`
	ProbeFailureThreshold int           `envconfig:"PROBE_FAILURE_THRESHOLD" default:"3"`
	ProbeWorkers          int           `envconfig:"PROBE_WORKERS" default:"0"`

	LBStrategy          string        `envconfig:"LB_STRATEGY" default:"round_robin"`
	DispatchTimeout     time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"10s"`
	DispatchMaxRetries  int           `envconfig:"DISPATCH_MAX_RETRIES" default:"2"`
	DispatchBackoffBase time.Duration `envconfig:"DISPATCH_BACKOFF_BASE" default:"50ms"`
	DispatchBackoffMax  time.Duration `envconfig:"DISPATCH_BACKOFF_MAX" default:"1s"`

	BreakerFailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerCooldown         time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`

	JWTPublicKey      string        `envconfig:"JWT_PUBLIC_KEY"`
	JWTPrivateKey     string        `envconfig:"JWT_PRIVATE_KEY"`
	JWTIssuer         string        `envconfig:"JWT_ISSUER" default:"portico"`
	JWTServiceTTL     time.Duration `envconfig:"JWT_SERVICE_TTL" default:"5m"`
	JWTAllowedIssuers []string      `envconfig:"JWT_ALLOWED_ISSUERS" default:""`

	RedisURL           string `envconfig:"REDIS_URL" default:""`
	RateLimitEnabled   bool   `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
	RateLimitGlobalRPM int    `envconfig:"RATE_LIMIT_GLOBAL_RPM" default:"10000"`
	RateLimitIPRPM     int    `envconfig:"RATE_LIMIT_IP_RPM" default:"60"`

	TraceExporter     string `envconfig:"TRACE_EXPORTER" default:""`
	TraceOTLPEndpoint string `envconfig:"TRACE_OTLP_ENDPOINT" default:""`
	TraceServiceName  string `envconfig:"TRACE_SERVICE_NAME" default:"portico"`

	Version, Commit, BuildDate string
}

func Load(version, commit, buildDate string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.Version, cfg.Commit, cfg.BuildDate = version, commit, buildDate
	return &cfg, nil
}
