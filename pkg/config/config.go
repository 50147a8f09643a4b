package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	RateLimit    RateLimitConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Orders       OrdersConfig
	Deals        DealsConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FLASHMART_APP_ENV" required:"true"`
	Port         string `envconfig:"FLASHMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FLASHMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FLASHMART_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"FLASHMART_LOG_FORMAT" default:"json" validate:"oneof=json console"`
	// Workers serve /metrics here; the api serves it on its own port. Empty disables.
	MetricsAddr string `envconfig:"FLASHMART_METRICS_ADDR" default:":9091"`

	// Comma separated; empty keeps the built-in allow list.
	CORSOrigins []string `envconfig:"FLASHMART_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FLASHMART_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FLASHMART_DB_DSN"`
	Driver string `envconfig:"FLASHMART_DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`

	LegacyHost     string `envconfig:"FLASHMART_DB_HOST"`
	LegacyPort     int    `envconfig:"FLASHMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FLASHMART_DB_USER"`
	LegacyPassword string `envconfig:"FLASHMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"FLASHMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"FLASHMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FLASHMART_DB_MAX_OPEN_CONNS" default:"20" validate:"gte=1"`
	MaxIdleConns    int           `envconfig:"FLASHMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FLASHMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FLASHMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// Zero disables slow query logging.
	SlowQuery time.Duration `envconfig:"FLASHMART_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the local sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"FLASHMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FLASHMART_REDIS_ADDR"`
	Password     string        `envconfig:"FLASHMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"FLASHMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FLASHMART_REDIS_POOL_SIZE" default:"10" validate:"gte=1"`
	MinIdleConns int           `envconfig:"FLASHMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FLASHMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FLASHMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FLASHMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FLASHMART_JWT_SECRET" required:"true" validate:"min=16"`
	Issuer            string `envconfig:"FLASHMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FLASHMART_JWT_EXPIRATION_MINUTES" required:"true" validate:"gte=1"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FLASHMART_AUTO_MIGRATE" default:"false"`
	// Verifies that signature payloads decode to a raster image before accepting them.
	StrictSignatureImages bool `envconfig:"FLASHMART_STRICT_SIGNATURE_IMAGES" default:"true"`
}

type RateLimitConfig struct {
	Window        time.Duration `envconfig:"FLASHMART_RATE_LIMIT_WINDOW" default:"1m" validate:"gte=1s"`
	ClaimLimit    int           `envconfig:"FLASHMART_RATE_LIMIT_CLAIM_LIMIT" default:"30" validate:"gte=1"`
	CheckoutLimit int           `envconfig:"FLASHMART_RATE_LIMIT_CHECKOUT_LIMIT" default:"20" validate:"gte=1"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"FLASHMART_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"FLASHMART_PUBSUB_ORDERS_TOPIC" default:"fm-order-events"`
	DealsTopic         string `envconfig:"FLASHMART_PUBSUB_DEALS_TOPIC" default:"fm-deal-events"`
	EscrowTopic        string `envconfig:"FLASHMART_PUBSUB_ESCROW_TOPIC" default:"fm-escrow-events"`
	OrdersSubscription string `envconfig:"FLASHMART_PUBSUB_ORDERS_SUBSCRIPTION" default:"fm-order-notifications"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FLASHMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50" validate:"gte=1,lte=500"`
	PollIntervalMS int `envconfig:"FLASHMART_OUTBOX_PUBLISH_POLL_MS" default:"500" validate:"gte=50"`
	MaxAttempts    int `envconfig:"FLASHMART_OUTBOX_MAX_ATTEMPTS" default:"10" validate:"gte=1"`

	DedupeTTL time.Duration `envconfig:"FLASHMART_OUTBOX_DEDUPE_TTL" default:"24h" validate:"gte=1m"`
	// Relayed rows older than this are pruned by the cron worker.
	Retention time.Duration `envconfig:"FLASHMART_OUTBOX_RETENTION" default:"336h" validate:"gte=24h"`
}

type OrdersConfig struct {
	PendingTTL time.Duration `envconfig:"FLASHMART_ORDERS_PENDING_TTL" default:"72h" validate:"gte=1m"`
	MaxQty     int           `envconfig:"FLASHMART_ORDERS_MAX_QTY" default:"100" validate:"gte=1"`
}

type DealsConfig struct {
	MaxWindow time.Duration `envconfig:"FLASHMART_DEALS_MAX_WINDOW" default:"168h" validate:"gte=1h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"FLASHMART_CRON_INTERVAL" default:"5m" validate:"gte=1s"`
	LockTTL  time.Duration `envconfig:"FLASHMART_CRON_LOCK_TTL" default:"4m" validate:"gte=1s"`
	// JobTimeout bounds a single job; a hung sweep must not hold the lock past its TTL.
	JobTimeout time.Duration `envconfig:"FLASHMART_CRON_JOB_TIMEOUT" default:"2m" validate:"gte=1s"`
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			bad := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				bad = append(bad, fmt.Sprintf("%s (%s=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(bad, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cron.LockTTL >= c.Cron.Interval {
		return fmt.Errorf("FLASHMART_CRON_LOCK_TTL must be shorter than FLASHMART_CRON_INTERVAL")
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
