package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Outbox       OutboxConfig
	Checkout     CheckoutConfig
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

func (c *Config) validate() error {
	var errs error
	if c.Checkout.MaxRetries < 1 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be at least 1", EnvCheckoutRetries))
	}
	if c.Stripe.ApplicationFeePercent < 0 || c.Stripe.ApplicationFeePercent >= 100 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be within [0,100)", EnvStripeFeePct))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("outbox batch size must be positive"))
	}
	return errs
}

type AppConfig struct {
	Env          string `envconfig:"MARCHE_APP_ENV" required:"true"`
	Port         string `envconfig:"MARCHE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARCHE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARCHE_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"MARCHE_CORS_ALLOWED_ORIGINS" default:"*"`
	// MetricsAddr exposes /metrics on workers that have no HTTP surface.
	MetricsAddr string `envconfig:"MARCHE_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated origin list.
func (a AppConfig) AllowedOrigins() []string {
	out := []string{}
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type ServiceConfig struct {
	Kind string `envconfig:"MARCHE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARCHE_DB_DSN"`
	Driver string `envconfig:"MARCHE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARCHE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARCHE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARCHE_DB_USER"`
	LegacyPassword string `envconfig:"MARCHE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARCHE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARCHE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARCHE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARCHE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARCHE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARCHE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARCHE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARCHE_REDIS_ADDR"`
	Password     string        `envconfig:"MARCHE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARCHE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARCHE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARCHE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARCHE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARCHE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARCHE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies staff access tokens minted by the identity provider.
type JWTConfig struct {
	Secret            string `envconfig:"MARCHE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARCHE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARCHE_JWT_EXPIRATION_MINUTES" default:"720"`
}

type RateLimitConfig struct {
	CheckoutWindow    time.Duration `envconfig:"MARCHE_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutIPLimit   int           `envconfig:"MARCHE_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"30"`
	ReceiptWindow     time.Duration `envconfig:"MARCHE_RATE_LIMIT_RECEIPT_WINDOW" default:"10m"`
	ReceiptIPLimit    int           `envconfig:"MARCHE_RATE_LIMIT_RECEIPT_IP_LIMIT" default:"10"`
	ReceiptEmailLimit int           `envconfig:"MARCHE_RATE_LIMIT_RECEIPT_EMAIL_LIMIT" default:"3"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MARCHE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"MARCHE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"MARCHE_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARCHE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MARCHE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARCHE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"MARCHE_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription    string `envconfig:"MARCHE_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	NotificationTopic     string `envconfig:"MARCHE_PUBSUB_NOTIFICATION_TOPIC" default:"marche-notification-events"`
	AnalyticsSubscription string `envconfig:"MARCHE_PUBSUB_ANALYTICS_SUBSCRIPTION"`
}

// AnalyticsSubscriptionName falls back to the orders subscription.
func (p PubSubConfig) AnalyticsSubscriptionName() string {
	if strings.TrimSpace(p.AnalyticsSubscription) != "" {
		return p.AnalyticsSubscription
	}
	return p.OrdersSubscription
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"MARCHE_BIGQUERY_DATASET" default:"marche"`
	OrderEventsTable string `envconfig:"MARCHE_BIGQUERY_ORDER_EVENTS_TABLE" default:"order_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARCHE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARCHE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARCHE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"MARCHE_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CheckoutConfig struct {
	MaxRetries   int           `envconfig:"MARCHE_CHECKOUT_MAX_RETRIES" default:"5"`
	RetryBackoff time.Duration `envconfig:"MARCHE_CHECKOUT_RETRY_BACKOFF" default:"25ms"`
}

type CronConfig struct {
	Interval  time.Duration `envconfig:"MARCHE_CRON_INTERVAL" default:"24h"`
	AutoClose bool          `envconfig:"MARCHE_CRON_AUTO_CLOSE" default:"true"`
}

type StripeConfig struct {
	APIKey                string  `envconfig:"MARCHE_STRIPE_API_KEY"`
	WebhookSecret         string  `envconfig:"MARCHE_STRIPE_WEBHOOK_SECRET"`
	Env                   string  `envconfig:"MARCHE_STRIPE_ENV" default:"test"`
	Currency              string  `envconfig:"MARCHE_STRIPE_CURRENCY" default:"jpy"`
	ApplicationFeePercent float64 `envconfig:"MARCHE_STRIPE_APPLICATION_FEE_PERCENT" default:"5"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// Enabled reports whether both the secret key and webhook secret are present.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != "" && strings.TrimSpace(s.WebhookSecret) != ""
}

// FeeRate converts the configured percentage into a multiplier.
func (s StripeConfig) FeeRate() decimal.Decimal {
	return decimal.NewFromFloat(s.ApplicationFeePercent).Div(decimal.NewFromInt(100))
}

type SquareConfig struct {
	AccessToken         string `envconfig:"MARCHE_SQUARE_ACCESS_TOKEN"`
	Env                 string `envconfig:"MARCHE_SQUARE_ENV" default:"sandbox"`
	WebhookSignatureKey string `envconfig:"MARCHE_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	NotificationURL     string `envconfig:"MARCHE_SQUARE_NOTIFICATION_URL"`
}

// Enabled reports whether the access token, webhook signature key and
// notification URL are all present.
func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != "" &&
		strings.TrimSpace(s.WebhookSignatureKey) != "" &&
		strings.TrimSpace(s.NotificationURL) != ""
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	return strings.TrimSpace(strings.ToLower(s.Env))
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
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
