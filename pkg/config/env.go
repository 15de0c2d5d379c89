package config

const EnvPrefix = "GREENHOUSE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	CartPrimaryRedis  = "redis"
	CartPrimaryMemory = "memory"
)

const (
	EnvAppEnv = "GREENHOUSE_APP_ENV"
	EnvPort   = "GREENHOUSE_APP_PORT"

	EnvDBDSN  = "GREENHOUSE_DB_DSN"
	EnvDBHost = "GREENHOUSE_DB_HOST"
	EnvDBUser = "GREENHOUSE_DB_USER"
	EnvDBName = "GREENHOUSE_DB_NAME"

	EnvRedisURL  = "GREENHOUSE_REDIS_URL"
	EnvRedisAddr = "GREENHOUSE_REDIS_ADDR"

	EnvJWTSecret  = "GREENHOUSE_JWT_SECRET"
	EnvJWTIssuer  = "GREENHOUSE_JWT_ISSUER"
	EnvJWTExpMins = "GREENHOUSE_JWT_EXPIRATION_MINUTES"

	EnvCartSyncQuietPeriod = "GREENHOUSE_CART_SYNC_QUIET_PERIOD"
	EnvCartStorageKey      = "GREENHOUSE_CART_STORAGE_KEY"
	EnvCartPrimary         = "GREENHOUSE_CART_PRIMARY"
	EnvCartSecondaryDSN    = "GREENHOUSE_CART_SECONDARY_DSN"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
