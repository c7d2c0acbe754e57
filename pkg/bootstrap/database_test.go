package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/config"
	"labflow/internal/logger"
)

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PostgresConfig
		want string
	}{
		{
			name: "default sslmode",
			cfg:  config.PostgresConfig{Host: "db", Port: 5432, User: "labflow", Password: "secret", DBName: "labflow"},
			want: "postgres://labflow:secret@db:5432/labflow?sslmode=disable",
		},
		{
			name: "escapes credentials",
			cfg:  config.PostgresConfig{Host: "db", Port: 5433, User: "lab", Password: "p@ss/word", DBName: "results", SSLMode: "require"},
			want: "postgres://lab:p%40ss%2Fword@db:5433/results?sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PostgresDSN(tt.cfg))
		})
	}
}

func TestDatabaseConnector_OptionalStores(t *testing.T) {
	dc := NewDatabaseConnector(&config.Config{}, logger.NopLogger())
	ctx := context.Background()

	db, err := dc.InitPostgreSQL(ctx)
	require.NoError(t, err)
	assert.Nil(t, db)

	rdb, err := dc.InitRedis(ctx)
	require.NoError(t, err)
	assert.Nil(t, rdb)

	client, err := dc.InitMongoDB(ctx)
	require.NoError(t, err)
	assert.Nil(t, client)

	assert.Empty(t, dc.ShutdownDatabases(ctx, nil, nil, nil))
}
