package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Cart      CartConfig
	Inventory InventoryConfig
	Realtime  RealtimeConfig
	DB        DBConfig
	Redis     RedisConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `envconfig:"STOREFRONT_SHUTDOWN_TIMEOUT" default:"10s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type CartConfig struct {
	StorageDriver string `envconfig:"STOREFRONT_CART_STORAGE_DRIVER" default:"memory"`
	StorageKey    string `envconfig:"STOREFRONT_CART_STORAGE_KEY" default:"hogans-alley-cart"`
	SchemaVersion int    `envconfig:"STOREFRONT_CART_SCHEMA_VERSION" default:"1"`
	MaxQuantity   int    `envconfig:"STOREFRONT_CART_MAX_QUANTITY" default:"3"`

	IdempotencyTTL  time.Duration `envconfig:"STOREFRONT_CART_IDEMPOTENCY_TTL" default:"24h"`
	RateLimitWindow time.Duration `envconfig:"STOREFRONT_CART_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerIP  int           `envconfig:"STOREFRONT_CART_RATE_LIMIT_PER_IP" default:"60"`
}

type InventoryConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_INVENTORY_BASE_URL" required:"true"`
	CacheTTL       time.Duration `envconfig:"STOREFRONT_INVENTORY_CACHE_TTL" default:"30s"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_INVENTORY_REQUEST_TIMEOUT" default:"8s"`
	OpenTimeout    time.Duration `envconfig:"STOREFRONT_INVENTORY_OPEN_TIMEOUT" default:"10s"`
	Table          string        `envconfig:"STOREFRONT_INVENTORY_TABLE" default:"inventory"`
}

type RealtimeConfig struct {
	Driver        string `envconfig:"STOREFRONT_REALTIME_DRIVER" default:"none"`
	ChannelPrefix string `envconfig:"STOREFRONT_REALTIME_CHANNEL_PREFIX" default:"sf:realtime"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"sqlite"`

	AutoMigrate bool `envconfig:"STOREFRONT_DB_AUTO_MIGRATE" default:"true"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether enough settings exist to dial Redis.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	InventoryTopic     string `envconfig:"STOREFRONT_PUBSUB_INVENTORY_TOPIC" default:"inventory-changes"`
	SubscriptionPrefix string `envconfig:"STOREFRONT_PUBSUB_SUBSCRIPTION_PREFIX" default:"storefront-inventory"`
}

func (c *Config) validate() error {
	c.Cart.StorageDriver = normalizeDriver(c.Cart.StorageDriver)
	c.Realtime.Driver = normalizeDriver(c.Realtime.Driver)
	c.DB.Driver = normalizeDriver(c.DB.Driver)

	switch c.Cart.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverRedis:
		if !c.Redis.Configured() {
			return fmt.Errorf("%s=redis requires %s or %s", EnvCartStorageDriver, EnvRedisURL, EnvRedisAddr)
		}
	case StorageDriverSQL:
		if err := c.DB.ResolveDSN(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvCartStorageDriver, c.Cart.StorageDriver)
	}

	switch c.Realtime.Driver {
	case RealtimeDriverNone, RealtimeDriverMemory:
	case RealtimeDriverRedis:
		if !c.Redis.Configured() {
			return fmt.Errorf("%s=redis requires %s or %s", EnvRealtimeDriver, EnvRedisURL, EnvRedisAddr)
		}
	case RealtimeDriverPubSub:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s=pubsub requires %s", EnvRealtimeDriver, EnvGCPProjectID)
		}
		if strings.TrimSpace(c.PubSub.InventoryTopic) == "" {
			return fmt.Errorf("%s=pubsub requires %s", EnvRealtimeDriver, EnvPubSubInventoryTopic)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvRealtimeDriver, c.Realtime.Driver)
	}

	if c.Cart.MaxQuantity < 1 {
		return fmt.Errorf("%s must be at least 1", EnvCartMaxQuantity)
	}
	if c.Inventory.CacheTTL < 0 {
		return fmt.Errorf("%s must not be negative", EnvInventoryCacheTTL)
	}
	return nil
}

// ResolveDSN fills the sqlite default DSN and rejects a postgres driver without one.
func (db *DBConfig) ResolveDSN() error {
	switch db.Driver {
	case DBDriverSQLite:
		if db.DSN == "" {
			db.DSN = DefaultSQLiteDSN
		}
		return nil
	case DBDriverPostgres:
		if db.DSN == "" {
			return fmt.Errorf("%s is required for the postgres driver", EnvDBDSN)
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvDBDriver, db.Driver)
	}
}

func normalizeDriver(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
