package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
server:
  port: 8081
  read_timeout_seconds: 10s
  write_timeout_seconds: 15s
logging:
  level: debug
broker:
  type: kafka
  kafka:
    brokers: ["localhost:9092"]
    group_id: ingest-service
    input_topic: hl7.inbound
    output_topic: lab.results
    config_update_topic: config.updates
    dlq_topic: hl7.dlq
    retry:
      max_attempts: 3
      initial_interval: 100ms
      max_interval: 2s
      multiplier: 2
flagging:
  reload:
    interval_seconds: 30
    jitter_max_milliseconds: 500
catalog:
  cache_enabled: true
  cache_ttl_seconds: 300
listener:
  enabled: true
  address: ":2575"
  read_timeout: 30s
dispatch:
  default_timeout: 5s
  sending_application: LABFLOW
  sending_facility: MAIN
  instruments:
    cobas-1:
      transport: mllp
      address: "10.0.0.5:5100"
    sysmex-1:
      transport: serial
      serial:
        port: /dev/ttyUSB0
        baud_rate: 9600
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "hl7.inbound", cfg.Broker.Kafka.InputTopic)
	assert.Equal(t, 100*time.Millisecond, cfg.Broker.Kafka.Retry.InitialInterval)
	assert.Equal(t, 30, cfg.Flagging.Reload.IntervalSeconds)
	assert.Equal(t, 500, cfg.Flagging.Reload.JitterMaxMilliseconds)
	assert.True(t, cfg.Catalog.CacheEnabled)
	assert.Equal(t, ":2575", cfg.Listener.Address)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.DefaultTimeout)

	require.Contains(t, cfg.Dispatch.Instruments, "cobas-1")
	assert.Equal(t, "10.0.0.5:5100", cfg.Dispatch.Instruments["cobas-1"].Address)
	require.Contains(t, cfg.Dispatch.Instruments, "sysmex-1")
	assert.Equal(t, 9600, cfg.Dispatch.Instruments["sysmex-1"].Serial.BaudRate)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BROKER_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("LISTENER_ADDRESS", ":3000")
	t.Setenv("SERVER_RATE_LIMIT_ENABLED", "true")
	t.Setenv("INGESTION_SOURCE", "ingest-eu")

	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, ":3000", cfg.Listener.Address)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, "ingest-eu", cfg.Ingestion.Source)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
