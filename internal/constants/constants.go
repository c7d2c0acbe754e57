package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixCatalog = "catalog:"
)

const (
	DefaultInputTopic  = "hl7_inbound"
	DefaultOutputTopic = "lab_result_events"
)

const (
	DefaultMongoDBName          = "labflow"
	DefaultQuarantineCollection = "quarantined_messages"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultTruncateLen = 100
)

const (
	DefaultTTLSeconds              = 3600
	DefaultCacheSizeReportInterval = 30 * time.Second
)

const (
	DefaultDispatchTimeout     = 30 * time.Second
	DefaultListenerReadTimeout = 60 * time.Second
	DefaultSendingApplication  = "LABFLOW"
)

const (
	SourceMLLP  = "mllp"
	SourceHTTP  = "http"
	SourceKafka = "kafka"
	SourceReply = "instrument_reply"
)

const (
	TransportMLLP   = "mllp"
	TransportSerial = "serial"
)
