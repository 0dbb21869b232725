package config

const EnvPrefix = "MARCHE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv          = "MARCHE_APP_ENV"
	EnvPort            = "MARCHE_APP_PORT"
	EnvLogLevel        = "MARCHE_LOG_LEVEL"
	EnvDBDSN           = "MARCHE_DB_DSN"
	EnvDBHost          = "MARCHE_DB_HOST"
	EnvDBUser          = "MARCHE_DB_USER"
	EnvDBName          = "MARCHE_DB_NAME"
	EnvRedisURL        = "MARCHE_REDIS_URL"
	EnvJWTSecret       = "MARCHE_JWT_SECRET"
	EnvJWTIssuer       = "MARCHE_JWT_ISSUER"
	EnvJWTExpMins      = "MARCHE_JWT_EXPIRATION_MINUTES"
	EnvGCPProjectID    = "MARCHE_GCP_PROJECT_ID"
	EnvOrdersTopic     = "MARCHE_PUBSUB_ORDERS_TOPIC"
	EnvOrdersSub       = "MARCHE_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvNotifyTopic     = "MARCHE_PUBSUB_NOTIFICATION_TOPIC"
	EnvStripeAPIKey    = "MARCHE_STRIPE_API_KEY"
	EnvStripeSecret    = "MARCHE_STRIPE_WEBHOOK_SECRET"
	EnvStripeFeePct    = "MARCHE_STRIPE_APPLICATION_FEE_PERCENT"
	EnvCheckoutRetries = "MARCHE_CHECKOUT_MAX_RETRIES"
)

// legacyDBEnvVars are required when no DSN is supplied.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
