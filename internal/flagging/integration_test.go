//go:build integration

package flagging_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/config"
	"labflow/internal/flagging"
	"labflow/internal/logger"
	"labflow/internal/testinfra"
	"labflow/pkg/models"
)

func TestPostgresRepository_VersionLifecycle(t *testing.T) {
	db := testinfra.Postgres(t)
	repo := flagging.NewRepository(db)
	ctx := context.Background()

	current, err := repo.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	v1 := &flagging.ConfigVersion{Name: "baseline"}
	require.NoError(t, repo.CreateVersion(ctx, v1))

	threshold, high := 135.0, 145.0
	require.NoError(t, repo.AddRule(ctx, &flagging.Rule{
		ConfigVersionID: v1.ID, AnalyteMatch: "NA", Comparator: flagging.ComparatorOutside,
		Threshold: &threshold, ThresholdHigh: &high,
		ResultingFlag: models.FlagAbnormal, Severity: models.SeverityModerate, Position: 2,
	}))
	require.NoError(t, repo.AddRule(ctx, &flagging.Rule{
		ConfigVersionID: v1.ID, AnalyteMatch: "CULT", Comparator: flagging.ComparatorOrdinal,
		OrdinalValues: []string{"positive", "reactive"},
		ResultingFlag: models.FlagAbnormal, Severity: models.SeveritySevere, Position: 1,
	}))

	rules, err := repo.GetRules(ctx, v1.ID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "CULT", rules[0].AnalyteMatch)
	assert.Equal(t, []string{"positive", "reactive"}, rules[0].OrdinalValues)
	assert.Nil(t, rules[0].Threshold)
	require.NotNil(t, rules[1].ThresholdHigh)
	assert.Equal(t, 145.0, *rules[1].ThresholdHigh)

	activatedAt := time.Now().UTC().Truncate(time.Millisecond)
	activated, err := repo.Activate(ctx, v1.ID, activatedAt)
	require.NoError(t, err)
	require.NotNil(t, activated)
	require.NotNil(t, activated.ActivatedAt)

	v2 := &flagging.ConfigVersion{Name: "next"}
	require.NoError(t, repo.CreateVersion(ctx, v2))
	_, err = repo.Activate(ctx, v2.ID, activatedAt.Add(time.Minute))
	require.NoError(t, err)

	current, err = repo.CurrentVersion(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, v2.ID, current.ID)

	missing, err := repo.Activate(ctx, "00000000-0000-0000-0000-000000000000", activatedAt)
	require.NoError(t, err)
	assert.Nil(t, missing)

	versions, err := repo.ListVersions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestService_WithPostgres(t *testing.T) {
	db := testinfra.Postgres(t)
	repo := flagging.NewRepository(db)
	ctx := context.Background()

	version := &flagging.ConfigVersion{Name: "glucose"}
	require.NoError(t, repo.CreateVersion(ctx, version))
	threshold := 90.0
	require.NoError(t, repo.AddRule(ctx, &flagging.Rule{
		ConfigVersionID: version.ID, AnalyteMatch: "GLU", Comparator: flagging.ComparatorGT,
		Threshold: &threshold, ResultingFlag: models.FlagHigh, Severity: models.SeverityModerate,
	}))
	_, err := repo.Activate(ctx, version.ID, time.Now().UTC())
	require.NoError(t, err)

	svc := flagging.NewService(repo, config.FlaggingConfig{}, logger.NopLogger())
	snapshot, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, version.ID, snapshot.VersionID())
	require.Len(t, snapshot.Rules, 1)
	assert.Equal(t, flagging.ComparatorGT, snapshot.Rules[0].Comparator)
}
