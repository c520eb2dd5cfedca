package configs

import (
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for transfer-api.
type Config struct {
	Port               string        `mapstructure:"PORT" validate:"required"`
	PrimaryDbAddr      string        `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReplicaDbAddr      string        `mapstructure:"REPLICA_DB_ADDR"`
	MaxDbCons          int32         `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons          int32         `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	RedisAddr          string        `mapstructure:"REDIS_ADDR" validate:"required"`
	KafkaBrokers       string        `mapstructure:"KAFKA_BROKERS" validate:"required"`
	KafkaTransferTopic string        `mapstructure:"KAFKA_TRANSFER_TOPIC" validate:"required"`
	KafkaPartition     uint32        `mapstructure:"KAFKA_PARTITION" validate:"min=1"`
	KafkaRetention     time.Duration `mapstructure:"KAFKA_RETENTION" validate:"required"`
	IdempotencyTTL     time.Duration `mapstructure:"IDEMPOTENCY_TTL" validate:"required"`
	MaxRetryCount      int           `mapstructure:"MAX_RETRY_COUNT" validate:"min=1,max=10"`
	RetryBaseBackoff   time.Duration `mapstructure:"RETRY_BASE_BACKOFF" validate:"required"`
	MaxRetryBackoff    time.Duration `mapstructure:"MAX_RETRY_BACKOFF" validate:"required"`
	TransferRatePerSec int           `mapstructure:"TRANSFER_RATE_PER_SEC" validate:"min=1"`
	TransferRateBurst  int           `mapstructure:"TRANSFER_RATE_BURST" validate:"min=1"`
	AccountNumberRetry int           `mapstructure:"ACCOUNT_NUMBER_RETRY" validate:"min=1"`
	HistoryPageSizeMax int           `mapstructure:"HISTORY_PAGE_SIZE_MAX" validate:"min=1"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("KAFKA_RETENTION", "168h")
	viper.SetDefault("IDEMPOTENCY_TTL", "24h")
	viper.SetDefault("MAX_RETRY_COUNT", "5")
	viper.SetDefault("RETRY_BASE_BACKOFF", "20ms")
	viper.SetDefault("MAX_RETRY_BACKOFF", "500ms")
	viper.SetDefault("TRANSFER_RATE_PER_SEC", "100")
	viper.SetDefault("TRANSFER_RATE_BURST", "200")
	viper.SetDefault("ACCOUNT_NUMBER_RETRY", "5")
	viper.SetDefault("HISTORY_PAGE_SIZE_MAX", "100")

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running in test mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running in development mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/transfer-api/configs")
	_ = viper.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, err
	}

	// Validate after unmarshal
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	return &cfg, nil
}
