package broker

import (
	"fmt"

	"labflow/internal/config"
	"labflow/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, serviceName string, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case TypeKafka:
		p := NewKafkaProducer(cfg.Kafka, log)
		if serviceName != "" {
			p.SetServiceName(serviceName)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %q", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, serviceName string, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case TypeKafka:
		c := NewKafkaConsumer(cfg.Kafka, log)
		if serviceName != "" {
			c.SetServiceName(serviceName)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %q", cfg.Type)
	}
}
