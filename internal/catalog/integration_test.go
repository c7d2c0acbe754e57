//go:build integration

package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/catalog"
	"labflow/internal/config"
	"labflow/internal/logger"
	"labflow/internal/testinfra"
)

func TestRedisCache_Integration(t *testing.T) {
	client := testinfra.Redis(t)
	cache := catalog.NewRedisCache(client)
	ctx := context.Background()

	t.Run("miss on unknown key", func(t *testing.T) {
		entry, found, err := cache.Get(ctx, "catalog:local:unknown")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, entry)
	})

	t.Run("stores entries and negative results", func(t *testing.T) {
		glu := &catalog.Entry{ID: "c-1", LocalCode: "GLU", Name: "Glucose", Unit: "mg/dL"}
		require.NoError(t, cache.Set(ctx, "catalog:local:glu", glu, time.Minute))
		require.NoError(t, cache.Set(ctx, "catalog:local:xyz", nil, time.Minute))

		entry, found, err := cache.Get(ctx, "catalog:local:glu")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, glu, entry)

		entry, found, err = cache.Get(ctx, "catalog:local:xyz")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Nil(t, entry)

		size, err := cache.Size(ctx, "catalog:")
		require.NoError(t, err)
		assert.Equal(t, 2, size)
	})
}

func TestCachedLookup_PostgresAndRedis(t *testing.T) {
	db := testinfra.Postgres(t)
	client := testinfra.Redis(t)
	ctx := context.Background()

	repo := catalog.NewRepository(db)
	require.NoError(t, repo.Upsert(ctx, &catalog.Entry{
		LocalCode: "GLU", StandardCode: "2345-7", CodingSystem: "LN", Name: "Glucose", Unit: "mg/dL",
	}))
	require.NoError(t, repo.Upsert(ctx, &catalog.Entry{
		LocalCode: "NA", StandardCode: "2951-2", CodingSystem: "LN", Name: "Sodium", Unit: "mmol/L",
	}))

	lookup := catalog.NewCachedLookup(repo, catalog.NewRedisCache(client), config.CatalogConfig{
		CacheEnabled:    true,
		CacheTTLSeconds: 60,
	}, logger.NopLogger())

	entry, err := catalog.Resolve(ctx, lookup, catalog.Key{LocalCode: "glu"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "GLU", entry.LocalCode)
	assert.Equal(t, "mg/dL", entry.Unit)

	entry, err = catalog.Resolve(ctx, lookup, catalog.Key{LocalCode: "X1", StandardCode: "2951-2"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "NA", entry.LocalCode)

	entry, err = catalog.Resolve(ctx, lookup, catalog.Key{Name: "potassium"})
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = db.ExecContext(ctx, `DELETE FROM test_catalog WHERE local_code = 'GLU'`)
	require.NoError(t, err)

	entry, err = lookup.FindByLocalCode(ctx, "GLU")
	require.NoError(t, err)
	require.NotNil(t, entry, "cached entry should survive until its TTL")
	assert.Equal(t, "Glucose", entry.Name)
}
