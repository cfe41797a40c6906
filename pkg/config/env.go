package config

const EnvPrefix = "DIGISTORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	PaymentProviderStripe = "stripe"
	PaymentProviderSquare = "square"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv                 = "DIGISTORE_APP_ENV"
	EnvPort                   = "DIGISTORE_APP_PORT"
	EnvDBDSN                  = "DIGISTORE_DB_DSN"
	EnvDBHost                 = "DIGISTORE_DB_HOST"
	EnvDBUser                 = "DIGISTORE_DB_USER"
	EnvDBName                 = "DIGISTORE_DB_NAME"
	EnvDBPassword             = "DIGISTORE_DB_PASSWORD"
	EnvRedisURL               = "DIGISTORE_REDIS_URL"
	EnvJWTSecret              = "DIGISTORE_JWT_SECRET"
	EnvJWTIssuer              = "DIGISTORE_JWT_ISSUER"
	EnvCheckoutCurrency       = "DIGISTORE_CHECKOUT_CURRENCY"
	EnvPlatformFeeRate        = "DIGISTORE_PLATFORM_FEE_RATE"
	EnvReferralCommissionRate = "DIGISTORE_REFERRAL_COMMISSION_RATE"
	EnvPaymentsProvider       = "DIGISTORE_PAYMENTS_PROVIDER"
	EnvCaptureTimeout         = "DIGISTORE_CHECKOUT_CAPTURE_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
