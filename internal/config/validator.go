package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if cfg.Ingestion.PublishRetry != (RetryConfig{}) {
		if err := validateRetry("ingestion.publish_retry", cfg.Ingestion.PublishRetry); err != nil {
			errors = append(errors, err)
		}
	}

	if err := validateFlagging(cfg.Flagging); err != nil {
		errors = append(errors, err)
	}

	if err := validateCatalog(cfg.Catalog); err != nil {
		errors = append(errors, err)
	}

	if err := validateArchive(cfg.Archive); err != nil {
		errors = append(errors, err)
	}

	if err := validateListener(cfg.Listener); err != nil {
		errors = append(errors, err)
	}

	if err := validateDispatch(cfg.Dispatch); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   prefix + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   prefix + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "database.redis.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateFlagging(cfg FlaggingConfig) error {
	if cfg.Reload.IntervalSeconds < 0 {
		return &ValidationError{
			Field:   "flagging.reload.interval_seconds",
			Message: "reload interval must be non-negative",
		}
	}

	if cfg.Reload.JitterMaxMilliseconds < 0 {
		return &ValidationError{
			Field:   "flagging.reload.jitter_max_milliseconds",
			Message: "jitter must be non-negative",
		}
	}

	return nil
}

func validateCatalog(cfg CatalogConfig) error {
	if cfg.CacheEnabled && cfg.CacheTTLSeconds <= 0 {
		return &ValidationError{
			Field:   "catalog.cache_ttl_seconds",
			Message: "cache TTL must be positive when the cache is enabled",
		}
	}

	return nil
}

func validateArchive(cfg ArchiveConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.S3.Bucket == "" {
		return &ValidationError{
			Field:   "archive.s3.bucket",
			Message: "bucket is required when the archive is enabled",
		}
	}

	if cfg.S3.Region == "" {
		return &ValidationError{
			Field:   "archive.s3.region",
			Message: "region is required when the archive is enabled",
		}
	}

	if (cfg.S3.AccessKeyID == "") != (cfg.S3.SecretAccessKey == "") {
		return &ValidationError{
			Field:   "archive.s3.access_key_id",
			Message: "access_key_id and secret_access_key must be set together",
		}
	}

	return nil
}

func validateListener(cfg ListenerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.Address == "" {
		return &ValidationError{
			Field:   "listener.address",
			Message: "listen address is required when the listener is enabled",
		}
	}

	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return &ValidationError{
			Field:   "listener.read_timeout",
			Message: "timeouts must be non-negative",
		}
	}

	if cfg.MaxMessageBytes < 0 {
		return &ValidationError{
			Field:   "listener.max_message_bytes",
			Message: "max_message_bytes must be non-negative",
		}
	}

	return nil
}

var validParity = map[string]bool{
	"": true, "none": true, "odd": true, "even": true,
}

func validateDispatch(cfg DispatchConfig) error {
	if cfg.DefaultTimeout < 0 {
		return &ValidationError{
			Field:   "dispatch.default_timeout",
			Message: "default timeout must be non-negative",
		}
	}

	for ref, instrument := range cfg.Instruments {
		field := fmt.Sprintf("dispatch.instruments.%s", ref)
		switch strings.ToLower(instrument.Transport) {
		case "", "mllp":
			if instrument.Address == "" {
				return &ValidationError{
					Field:   field + ".address",
					Message: "address is required for mllp transport",
				}
			}
		case "serial":
			if instrument.Serial.Port == "" {
				return &ValidationError{
					Field:   field + ".serial.port",
					Message: "port is required for serial transport",
				}
			}
			if instrument.Serial.BaudRate < 0 {
				return &ValidationError{
					Field:   field + ".serial.baud_rate",
					Message: "baud rate must be non-negative",
				}
			}
			if !validParity[strings.ToLower(instrument.Serial.Parity)] {
				return &ValidationError{
					Field:   field + ".serial.parity",
					Message: fmt.Sprintf("invalid parity: %s (valid: none, odd, even)", instrument.Serial.Parity),
				}
			}
		default:
			return &ValidationError{
				Field:   field + ".transport",
				Message: fmt.Sprintf("unknown transport: %s (supported: mllp, serial)", instrument.Transport),
			}
		}
	}

	return nil
}
