package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "FLASHMART"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv    = "FLASHMART_APP_ENV"
	EnvPort      = "FLASHMART_APP_PORT"
	EnvDBDSN     = "FLASHMART_DB_DSN"
	EnvDBDriver  = "FLASHMART_DB_DRIVER"
	EnvDBHost    = "FLASHMART_DB_HOST"
	EnvDBUser    = "FLASHMART_DB_USER"
	EnvDBName    = "FLASHMART_DB_NAME"
	EnvDBPass    = "FLASHMART_DB_PASSWORD"
	EnvRedisURL  = "FLASHMART_REDIS_URL"
	EnvJWTSecret = "FLASHMART_JWT_SECRET"
	EnvJWTIssuer = "FLASHMART_JWT_ISSUER"
	EnvJWTExpMin = "FLASHMART_JWT_EXPIRATION_MINUTES"

	EnvOrdersPendingTTL = "FLASHMART_ORDERS_PENDING_TTL"
	EnvPubSubOrders     = "FLASHMART_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
