package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Cart         CartConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	if cfg.Cart.PrimaryKind() == CartPrimaryRedis && cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("either %s or %s is required when %s=%s", EnvRedisURL, EnvRedisAddr, EnvCartPrimary, CartPrimaryRedis)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GREENHOUSE_APP_ENV" required:"true"`
	Port         string `envconfig:"GREENHOUSE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GREENHOUSE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GREENHOUSE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"GREENHOUSE_DB_DSN"`
	Driver string `envconfig:"GREENHOUSE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GREENHOUSE_DB_HOST"`
	LegacyPort     int    `envconfig:"GREENHOUSE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GREENHOUSE_DB_USER"`
	LegacyPassword string `envconfig:"GREENHOUSE_DB_PASSWORD"`
	LegacyName     string `envconfig:"GREENHOUSE_DB_NAME"`
	LegacySSLMode  string `envconfig:"GREENHOUSE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GREENHOUSE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GREENHOUSE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GREENHOUSE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GREENHOUSE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GREENHOUSE_REDIS_URL"`
	Address      string        `envconfig:"GREENHOUSE_REDIS_ADDR"`
	Password     string        `envconfig:"GREENHOUSE_REDIS_PASSWORD"`
	DB           int           `envconfig:"GREENHOUSE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GREENHOUSE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GREENHOUSE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GREENHOUSE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GREENHOUSE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GREENHOUSE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"GREENHOUSE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"GREENHOUSE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"GREENHOUSE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"GREENHOUSE_AUTO_MIGRATE" default:"false"`
}

// CartConfig tunes the per-device cart sessions.
type CartConfig struct {
	SyncQuietPeriod time.Duration `envconfig:"GREENHOUSE_CART_SYNC_QUIET_PERIOD" default:"2s"`
	RemoteTimeout   time.Duration `envconfig:"GREENHOUSE_CART_REMOTE_TIMEOUT" default:"10s"`
	StorageTimeout  time.Duration `envconfig:"GREENHOUSE_CART_STORAGE_TIMEOUT" default:"2s"`
	StorageKey      string        `envconfig:"GREENHOUSE_CART_STORAGE_KEY" default:"cart"`
	Primary         string        `envconfig:"GREENHOUSE_CART_PRIMARY" default:"redis"`
	SecondaryDSN    string        `envconfig:"GREENHOUSE_CART_SECONDARY_DSN" default:"file:greenhouse-cart.db?_busy_timeout=5000"`
	SessionIdleTTL  time.Duration `envconfig:"GREENHOUSE_CART_SESSION_IDLE_TTL" default:"30m"`
	SweepInterval   time.Duration `envconfig:"GREENHOUSE_CART_SWEEP_INTERVAL" default:"1m"`
}

// PrimaryKind returns the normalized primary storage backend.
func (c CartConfig) PrimaryKind() string {
	kind := strings.ToLower(strings.TrimSpace(c.Primary))
	if kind == "" {
		return CartPrimaryRedis
	}
	return kind
}

func (c CartConfig) validate() error {
	switch c.PrimaryKind() {
	case CartPrimaryRedis, CartPrimaryMemory:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvCartPrimary, CartPrimaryRedis, CartPrimaryMemory, c.Primary)
	}
	if c.SyncQuietPeriod <= 0 {
		return fmt.Errorf("%s must be positive", EnvCartSyncQuietPeriod)
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		return fmt.Errorf("%s must not be empty", EnvCartStorageKey)
	}
	return nil
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"GREENHOUSE_CORS_ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
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
