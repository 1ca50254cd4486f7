package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"reading-discovery-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,PATCH,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"reading_discovery"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseReconnectRetryCount   int           `env:"DB_RECONNECT_RETRY_COUNT" env-default:"3"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (fetch cache, job queue, rate limiting, DLQ)
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	// When false the dispatcher runs jobs inline (fire-and-forget) instead of
	// publishing to the durable queue.
	QueueEnabled bool `env:"QUEUE_ENABLED" env-default:"true"`

	// Kafka lifecycle events
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaEventTopic   string   `env:"KAFKA_EVENT_TOPIC" env-default:"reading-discovery-events"`
	KafkaEventsEnabled bool    `env:"KAFKA_EVENTS_ENABLED" env-default:"false"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Twitter source client
	TwitterBaseURL      string        `env:"TWITTER_BASE_URL" env-default:"https://api.twitter.com"`
	TwitterBearerToken  string        `env:"TWITTER_BEARER_TOKEN" env-default:""`
	TwitterPageSize     int           `env:"TWITTER_PAGE_SIZE" env-default:"1000"`
	TwitterRequestDelay time.Duration `env:"TWITTER_REQUEST_DELAY" env-default:"500ms"`

	// Goodreads reading-platform client
	GoodreadsBaseURL      string        `env:"GOODREADS_BASE_URL" env-default:"https://www.goodreads.com"`
	GoodreadsRequestDelay time.Duration `env:"GOODREADS_REQUEST_DELAY" env-default:"1s"`
	FetchCacheTTL         time.Duration `env:"FETCH_CACHE_TTL" env-default:"24h"`
	FetchRetryAfterCap    time.Duration `env:"FETCH_RETRY_AFTER_CAP" env-default:"5m"`

	// Tracing
	TracingEnabled       bool          `env:"TRACING_ENABLED" env-default:"false"`
	OtelExporterEndpoint string        `env:"OTEL_EXPORTER_ENDPOINT" env-default:"localhost:4317"`
	OtelExporterProtocol string        `env:"OTEL_EXPORTER_PROTOCOL" env-default:"grpc"`
	OtelExporterInsecure bool          `env:"OTEL_EXPORTER_INSECURE" env-default:"true"`
	OtelExporterTimeout  time.Duration `env:"OTEL_EXPORTER_TIMEOUT" env-default:"10s"`

	// Resolution
	// Cached mappings older than this are re-resolved from scratch.
	CacheValidityDays int `env:"RESOLUTION_CACHE_VALIDITY_DAYS" env-default:"30"`

	// Job processing
	ImportWorkerCount    int `env:"IMPORT_WORKER_COUNT" env-default:"2"`
	ResolveWorkerCount   int `env:"RESOLVE_WORKER_COUNT" env-default:"5"`
	ActivityWorkerCount  int `env:"ACTIVITY_WORKER_COUNT" env-default:"3"`
	ResolveRatePerSecond int `env:"RESOLVE_RATE_PER_SECOND" env-default:"10"`
	ActivityRatePerSecond int `env:"ACTIVITY_RATE_PER_SECOND" env-default:"5"`
	JobMaxAttempts       int `env:"JOB_MAX_ATTEMPTS" env-default:"3"`
	// Most recent "read" shelf entries carried into the feed per refresh.
	ReadShelfFeedLimit int `env:"READ_SHELF_FEED_LIMIT" env-default:"20"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
