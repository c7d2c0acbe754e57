package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/config"
	"labflow/internal/logger"
)

func TestFactory(t *testing.T) {
	cfg := config.BrokerConfig{
		Type: TypeKafka,
		Kafka: config.KafkaConfig{
			Brokers:  []string{"localhost:9092"},
			GroupID:  "labflow",
			DLQTopic: "hl7_dlq",
		},
	}

	producer, err := NewProducer(cfg, "ingest-service", logger.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, "ingest-service", producer.(*KafkaProducer).serviceName)
	assert.NoError(t, producer.Close())

	consumer, err := NewConsumer(cfg, "ingest-service", logger.NopLogger())
	require.NoError(t, err)
	kc := consumer.(*KafkaConsumer)
	assert.Equal(t, "ingest-service", kc.serviceName)
	require.NotNil(t, kc.dlqProducer)
	assert.Equal(t, "ingest-service", kc.dlqProducer.(*KafkaProducer).serviceName)
	assert.NoError(t, consumer.Close())
}

func TestFactory_UnknownType(t *testing.T) {
	_, err := NewProducer(config.BrokerConfig{Type: "nats"}, "", logger.NopLogger())
	assert.EqualError(t, err, `unknown broker type: "nats"`)

	_, err = NewConsumer(config.BrokerConfig{}, "", logger.NopLogger())
	assert.Error(t, err)
}
