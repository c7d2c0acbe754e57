//go:build integration

package quarantine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/testinfra"
	"labflow/pkg/models"
)

func TestMongoStore(t *testing.T) {
	ctx := context.Background()
	store := NewMongoStore(testinfra.Mongo(t), "")
	require.NoError(t, store.EnsureIndexes(ctx))
	require.NoError(t, store.EnsureIndexes(ctx))

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Quarantine(ctx, models.QuarantineRecord{
		MessageID:     "MSG-1",
		RawText:       "MSH|^~\\&|LIS",
		Reason:        "validation failed",
		FieldPath:     "OBX[1]-6",
		QuarantinedAt: base,
	}))
	require.NoError(t, store.Quarantine(ctx, models.QuarantineRecord{
		MessageID:     "MSG-2",
		Reason:        "unknown order id",
		FieldPath:     "OBR[1]-2",
		FieldValue:    "ORD-404",
		QuarantinedAt: base.Add(time.Minute),
	}))

	t.Run("upsert keeps one document", func(t *testing.T) {
		require.NoError(t, store.Quarantine(ctx, models.QuarantineRecord{
			MessageID:     "MSG-1",
			Reason:        "malformed message",
			QuarantinedAt: base.Add(2 * time.Minute),
		}))

		record, err := store.Get(ctx, "MSG-1")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "malformed message", record.Reason)
		assert.Empty(t, record.FieldPath)

		all, err := store.List(ctx, ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "MSG-1", all[0].MessageID)
	})

	t.Run("filter by reason", func(t *testing.T) {
		records, err := store.List(ctx, ListFilter{Reason: "unknown order id"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "ORD-404", records[0].FieldValue)
	})

	t.Run("release", func(t *testing.T) {
		require.NoError(t, store.Release(ctx, "MSG-2"))
		assert.Error(t, store.Release(ctx, "MSG-2"))

		record, err := store.Get(ctx, "MSG-2")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	assert.Error(t, store.Quarantine(ctx, models.QuarantineRecord{}))
}
