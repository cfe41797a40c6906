package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Downloads    DownloadsConfig
	GiftCards    GiftCardsConfig
	RateLimit    RateLimitConfig
	Payments     PaymentsConfig
	Stripe       StripeConfig
	Square       SquareConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Mail         MailConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DIGISTORE_APP_ENV" required:"true"`
	Port         string `envconfig:"DIGISTORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DIGISTORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DIGISTORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DIGISTORE_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background binaries expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"DIGISTORE_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"DIGISTORE_DB_DSN"`
	Driver string `envconfig:"DIGISTORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DIGISTORE_DB_HOST"`
	LegacyPort     int    `envconfig:"DIGISTORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DIGISTORE_DB_USER"`
	LegacyPassword string `envconfig:"DIGISTORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"DIGISTORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"DIGISTORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DIGISTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DIGISTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DIGISTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DIGISTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"DIGISTORE_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DIGISTORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DIGISTORE_REDIS_ADDR"`
	Password     string        `envconfig:"DIGISTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"DIGISTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DIGISTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DIGISTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIGISTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DIGISTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DIGISTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"DIGISTORE_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"DIGISTORE_JWT_ISSUER" required:"true"`
	Audience          string        `envconfig:"DIGISTORE_JWT_AUDIENCE"`
	ExpirationMinutes int           `envconfig:"DIGISTORE_JWT_EXPIRATION_MINUTES" default:"60"`
	Leeway            time.Duration `envconfig:"DIGISTORE_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DIGISTORE_AUTO_MIGRATE" default:"false"`
}

// CheckoutConfig carries the pricing and settlement knobs.
type CheckoutConfig struct {
	Currency               string        `envconfig:"DIGISTORE_CHECKOUT_CURRENCY" default:"USD"`
	PlatformFeeRate        string        `envconfig:"DIGISTORE_PLATFORM_FEE_RATE" default:"0.15"`
	ReferralCommissionRate string        `envconfig:"DIGISTORE_REFERRAL_COMMISSION_RATE" default:"0.10"`
	QuoteTTL               time.Duration `envconfig:"DIGISTORE_CHECKOUT_QUOTE_TTL" default:"30m"`
	CaptureTimeout         time.Duration `envconfig:"DIGISTORE_CHECKOUT_CAPTURE_TIMEOUT" default:"15s"`
	NotificationTimeout    time.Duration `envconfig:"DIGISTORE_CHECKOUT_NOTIFICATION_TIMEOUT" default:"10s"`
	MaxLineItems           int           `envconfig:"DIGISTORE_CHECKOUT_MAX_LINE_ITEMS" default:"50"`
	MaxQuantity            int           `envconfig:"DIGISTORE_CHECKOUT_MAX_QUANTITY" default:"100"`
}

// FeeRate returns the validated platform fee rate.
func (c CheckoutConfig) FeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.PlatformFeeRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// CommissionRate returns the validated referral commission rate.
func (c CheckoutConfig) CommissionRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.ReferralCommissionRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (c CheckoutConfig) validate() error {
	for name, raw := range map[string]string{
		EnvPlatformFeeRate:        c.PlatformFeeRate,
		EnvReferralCommissionRate: c.ReferralCommissionRate,
	} {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s must be a decimal: %w", name, err)
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("%s must be in [0, 1)", name)
		}
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("%s is required", EnvCheckoutCurrency)
	}
	return nil
}

type DownloadsConfig struct {
	GrantTTL     time.Duration `envconfig:"DIGISTORE_DOWNLOAD_GRANT_TTL" default:"48h"`
	MaxDownloads int           `envconfig:"DIGISTORE_DOWNLOAD_MAX_DOWNLOADS" default:"5"`
	BucketName   string        `envconfig:"DIGISTORE_DOWNLOAD_BUCKET"`
	SignedURLTTL time.Duration `envconfig:"DIGISTORE_DOWNLOAD_SIGNED_URL_TTL" default:"15m"`
}

type GiftCardsConfig struct {
	Validity       time.Duration `envconfig:"DIGISTORE_GIFT_CARD_VALIDITY" default:"8760h"`
	MinAmountCents int64         `envconfig:"DIGISTORE_GIFT_CARD_MIN_AMOUNT_CENTS" default:"500"`
	MaxAmountCents int64         `envconfig:"DIGISTORE_GIFT_CARD_MAX_AMOUNT_CENTS" default:"50000"`
}

type RateLimitConfig struct {
	CodeLookupWindow time.Duration `envconfig:"DIGISTORE_RATE_LIMIT_CODE_LOOKUP_WINDOW" default:"1m"`
	CodeLookupLimit  int           `envconfig:"DIGISTORE_RATE_LIMIT_CODE_LOOKUP_LIMIT" default:"20"`
}

type PaymentsConfig struct {
	Provider   string        `envconfig:"DIGISTORE_PAYMENTS_PROVIDER" default:"stripe"`
	WebhookTTL time.Duration `envconfig:"DIGISTORE_PAYMENTS_WEBHOOK_TTL" default:"720h"`
}

func (p PaymentsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Provider)) {
	case PaymentProviderStripe, PaymentProviderSquare:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvPaymentsProvider, PaymentProviderStripe, PaymentProviderSquare)
	}
}

// Name returns the normalized provider name.
func (p PaymentsConfig) Name() string {
	return strings.ToLower(strings.TrimSpace(p.Provider))
}

type StripeConfig struct {
	APIKey string `envconfig:"DIGISTORE_STRIPE_API_KEY"`
	Secret string `envconfig:"DIGISTORE_STRIPE_SECRET"`
	Env    string `envconfig:"DIGISTORE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken   string `envconfig:"DIGISTORE_SQUARE_ACCESS_TOKEN"`
	LocationID    string `envconfig:"DIGISTORE_SQUARE_LOCATION_ID"`
	WebhookSecret string `envconfig:"DIGISTORE_SQUARE_WEBHOOK_SECRET"`
	WebhookURL    string `envconfig:"DIGISTORE_SQUARE_WEBHOOK_URL"`
	Env           string `envconfig:"DIGISTORE_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DIGISTORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"DIGISTORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"DIGISTORE_PUBSUB_ORDERS_TOPIC" default:"ds-order-events"`
	NotificationTopic        string `envconfig:"DIGISTORE_PUBSUB_NOTIFICATION_TOPIC" default:"ds-notification-events"`
	IncidentsTopic           string `envconfig:"DIGISTORE_PUBSUB_INCIDENTS_TOPIC" default:"ds-settlement-incidents"`
	NotificationSubscription string `envconfig:"DIGISTORE_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"ds-notification-events-sub"`
	AnalyticsSubscriptions   string `envconfig:"DIGISTORE_PUBSUB_ANALYTICS_SUBSCRIPTIONS" default:"ds-order-events-analytics-sub,ds-settlement-incidents-analytics-sub"`
}

// AnalyticsSubscriptionNames splits the comma separated subscription list.
func (p PubSubConfig) AnalyticsSubscriptionNames() []string {
	var names []string
	for _, part := range strings.Split(p.AnalyticsSubscriptions, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// BigQueryConfig points the settlement analytics sink at a dataset. An empty
// Dataset disables the sink.
type BigQueryConfig struct {
	Dataset               string `envconfig:"DIGISTORE_BIGQUERY_DATASET"`
	SettlementEventsTable string `envconfig:"DIGISTORE_BIGQUERY_SETTLEMENT_TABLE" default:"settlement_events"`
}

// MailConfig configures outbound fulfillment email. An empty Host logs
// messages instead of sending them.
type MailConfig struct {
	Host            string        `envconfig:"DIGISTORE_SMTP_HOST"`
	Port            int           `envconfig:"DIGISTORE_SMTP_PORT" default:"587"`
	Username        string        `envconfig:"DIGISTORE_SMTP_USER"`
	Password        string        `envconfig:"DIGISTORE_SMTP_PASSWORD"`
	From            string        `envconfig:"DIGISTORE_MAIL_FROM" default:"Digistore <no-reply@digistore.local>"`
	Timeout         time.Duration `envconfig:"DIGISTORE_SMTP_TIMEOUT" default:"10s"`
	Dedupe          time.Duration `envconfig:"DIGISTORE_MAIL_DEDUPE_TTL" default:"168h"`
	// DownloadBaseURL prefixes download tokens in fulfillment emails.
	DownloadBaseURL string        `envconfig:"DIGISTORE_MAIL_DOWNLOAD_BASE_URL" default:"http://localhost:8080/api/v1/downloads"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DIGISTORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DIGISTORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DIGISTORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	// Tick is how often the worker checks for due jobs.
	Tick            time.Duration `envconfig:"DIGISTORE_CRON_TICK" default:"1m"`
	LockTTL         time.Duration `envconfig:"DIGISTORE_CRON_LOCK_TTL" default:"10m"`
	ReconcileEvery  time.Duration `envconfig:"DIGISTORE_CRON_RECONCILE_EVERY" default:"2m"`
	ReconcileAfter  time.Duration `envconfig:"DIGISTORE_CRON_RECONCILE_AFTER" default:"2m"`
	BatchLimit      int           `envconfig:"DIGISTORE_CRON_BATCH_LIMIT" default:"100"`
	ExpiryEvery     time.Duration `envconfig:"DIGISTORE_CRON_GIFT_CARD_EXPIRY_EVERY" default:"1h"`
	RetentionEvery  time.Duration `envconfig:"DIGISTORE_CRON_OUTBOX_RETENTION_EVERY" default:"24h"`
	// OutboxRetention is how long published outbox rows are kept.
	OutboxRetention time.Duration `envconfig:"DIGISTORE_CRON_OUTBOX_RETENTION" default:"720h"`
	RetentionBatch  int           `envconfig:"DIGISTORE_CRON_OUTBOX_RETENTION_BATCH" default:"1000"`
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
