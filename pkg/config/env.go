package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	StorageDriverMemory = "memory"
	StorageDriverRedis  = "redis"
	StorageDriverSQL    = "sql"

	RealtimeDriverNone   = "none"
	RealtimeDriverMemory = "memory"
	RealtimeDriverRedis  = "redis"
	RealtimeDriverPubSub = "pubsub"

	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"

	DefaultSQLiteDSN = "file:storefront.db?cache=shared&_pragma=busy_timeout(5000)"
)

const (
	EnvAppEnv               = "STOREFRONT_APP_ENV"
	EnvPort                 = "STOREFRONT_APP_PORT"
	EnvLogLevel             = "STOREFRONT_LOG_LEVEL"
	EnvCartStorageDriver    = "STOREFRONT_CART_STORAGE_DRIVER"
	EnvCartStorageKey       = "STOREFRONT_CART_STORAGE_KEY"
	EnvCartMaxQuantity      = "STOREFRONT_CART_MAX_QUANTITY"
	EnvInventoryBaseURL     = "STOREFRONT_INVENTORY_BASE_URL"
	EnvInventoryCacheTTL    = "STOREFRONT_INVENTORY_CACHE_TTL"
	EnvRealtimeDriver       = "STOREFRONT_REALTIME_DRIVER"
	EnvDBDSN                = "STOREFRONT_DB_DSN"
	EnvDBDriver             = "STOREFRONT_DB_DRIVER"
	EnvRedisURL             = "STOREFRONT_REDIS_URL"
	EnvRedisAddr            = "STOREFRONT_REDIS_ADDR"
	EnvGCPProjectID         = "STOREFRONT_GCP_PROJECT_ID"
	EnvPubSubInventoryTopic = "STOREFRONT_PUBSUB_INVENTORY_TOPIC"
)
