package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"labflow/internal/config"
	"labflow/pkg/logging"
)

func observed(service string) (*SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &SugaredLogger{SugaredLogger: zap.New(core).Sugar(), serviceName: service}, logs
}

func TestSugaredLogger_ContextFields(t *testing.T) {
	log, logs := observed("ingest-service")

	ctx := logging.WithTraceID(context.Background(), "trace-1")
	ctx = logging.WithMessageID(ctx, "MSG-1")
	ctx = logging.WithChangedBy(ctx, "lab-admin")

	log.InfowCtx(ctx, "Message published", "result_count", 2)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, "MSG-1", fields["message_id"])
	assert.Equal(t, "lab-admin", fields["changed_by"])
	assert.Equal(t, "ingest-service", fields["service_name"])
	assert.EqualValues(t, 2, fields["result_count"])
}

func TestSugaredLogger_ContextServiceNameWins(t *testing.T) {
	log, logs := observed("ingest-service")

	ctx := logging.WithServiceName(context.Background(), "management-service")
	log.WarnwCtx(ctx, "Audit write failed")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "management-service", logs.All()[0].ContextMap()["service_name"])
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{name: "json default", cfg: config.LoggingConfig{}},
		{name: "console debug", cfg: config.LoggingConfig{Level: "DEBUG", Format: "console"}},
		{name: "error level", cfg: config.LoggingConfig{Level: "error", Format: "json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}
