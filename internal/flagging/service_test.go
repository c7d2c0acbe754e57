package flagging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/config"
	"labflow/internal/logger"
	"labflow/pkg/models"
)

func seedVersion(t *testing.T, repo *MemoryRepository, name string, activatedAt time.Time, rules ...Rule) *ConfigVersion {
	t.Helper()
	ctx := context.Background()

	version := &ConfigVersion{Name: name}
	require.NoError(t, repo.CreateVersion(ctx, version))
	for i := range rules {
		rules[i].ConfigVersionID = version.ID
		require.NoError(t, repo.AddRule(ctx, &rules[i]))
	}
	if !activatedAt.IsZero() {
		_, err := repo.Activate(ctx, version.ID, activatedAt)
		require.NoError(t, err)
	}
	return version
}

func TestService_CurrentLoadsMostRecentlyActivatedVersion(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	seedVersion(t, repo, "v1", base,
		Rule{AnalyteMatch: "GLU", Comparator: ComparatorGT, Threshold: ptr(100.0), ResultingFlag: models.FlagHigh})
	v2 := seedVersion(t, repo, "v2", base.Add(time.Hour),
		Rule{AnalyteMatch: "*", Comparator: ComparatorGT, Threshold: ptr(1.0), ResultingFlag: models.FlagAbnormal, Position: 0},
		Rule{AnalyteMatch: "GLU", Comparator: ComparatorGT, Threshold: ptr(90.0), ResultingFlag: models.FlagHigh, Position: 1})
	seedVersion(t, repo, "draft", time.Time{})

	svc := NewService(repo, config.FlaggingConfig{}, logger.NopLogger())
	snapshot, err := svc.Current(context.Background())
	require.NoError(t, err)

	require.NotNil(t, snapshot.Version)
	assert.Equal(t, v2.ID, snapshot.VersionID())
	require.Len(t, snapshot.Rules, 2)
	assert.Equal(t, "GLU", snapshot.Rules[0].AnalyteMatch, "snapshot rules are in evaluation order")
}

func TestService_SnapshotIsStableUntilReload(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	v1 := seedVersion(t, repo, "v1", base)

	svc := NewService(repo, config.FlaggingConfig{}, logger.NopLogger())
	ctx := context.Background()

	held, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, held.VersionID())

	v2 := seedVersion(t, repo, "v2", base.Add(time.Minute))

	again, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, again.VersionID(), "cached until reload")

	require.NoError(t, svc.ReloadRules(ctx, true))

	reloaded, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, reloaded.VersionID())
	assert.Equal(t, v1.ID, held.VersionID(), "snapshots already handed out do not change")
}

func TestService_NoActiveVersion(t *testing.T) {
	svc := NewService(NewMemoryRepository(), config.FlaggingConfig{}, logger.NopLogger())

	snapshot, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snapshot.Version)
	assert.Empty(t, snapshot.Rules)
	assert.Equal(t, "", snapshot.VersionID())
}

type failingRepository struct{}

func (failingRepository) CurrentVersion(context.Context) (*ConfigVersion, error) {
	return nil, errors.New("connection refused")
}

func (failingRepository) GetRules(context.Context, string) ([]Rule, error) {
	return nil, errors.New("connection refused")
}

func TestService_CurrentPropagatesRepositoryErrors(t *testing.T) {
	svc := NewService(failingRepository{}, config.FlaggingConfig{}, logger.NopLogger())

	_, err := svc.Current(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestService_ReloadJitterHonoursContext(t *testing.T) {
	svc := NewService(NewMemoryRepository(), config.FlaggingConfig{
		Reload: config.ReloadConfig{JitterMaxMilliseconds: 60000},
	}, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.ReloadRules(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestService_StartReloaderStopsOnCancel(t *testing.T) {
	svc := NewService(NewMemoryRepository(), config.FlaggingConfig{
		Reload: config.ReloadConfig{IntervalSeconds: 1},
	}, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.StartReloader(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("reloader did not stop")
	}
}

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr string
	}{
		{name: "valid threshold rule", rule: Rule{AnalyteMatch: "GLU", Comparator: ComparatorGT, Threshold: ptr(90.0), ResultingFlag: models.FlagHigh, Severity: models.SeverityModerate}},
		{name: "valid ordinal rule", rule: Rule{AnalyteMatch: "CULT", Comparator: ComparatorOrdinal, OrdinalValues: []string{"positive"}, ResultingFlag: models.FlagAbnormal}},
		{name: "missing analyte", rule: Rule{Comparator: ComparatorGT, Threshold: ptr(1.0), ResultingFlag: models.FlagHigh}, wantErr: "analyte_match"},
		{name: "unknown comparator", rule: Rule{AnalyteMatch: "GLU", Comparator: "approx", ResultingFlag: models.FlagHigh}, wantErr: "comparator"},
		{name: "blank flag", rule: Rule{AnalyteMatch: "GLU", Comparator: ComparatorGT, Threshold: ptr(1.0)}, wantErr: "resulting_flag"},
		{name: "bad severity", rule: Rule{AnalyteMatch: "GLU", Comparator: ComparatorGT, Threshold: ptr(1.0), ResultingFlag: models.FlagHigh, Severity: "extreme"}, wantErr: "severity"},
		{name: "missing threshold", rule: Rule{AnalyteMatch: "GLU", Comparator: ComparatorLT, ResultingFlag: models.FlagLow}, wantErr: "threshold"},
		{name: "inverted range", rule: Rule{AnalyteMatch: "NA", Comparator: ComparatorOutside, Threshold: ptr(145.0), ThresholdHigh: ptr(135.0), ResultingFlag: models.FlagAbnormal}, wantErr: "threshold_high"},
		{name: "ordinal without values", rule: Rule{AnalyteMatch: "CULT", Comparator: ComparatorOrdinal, ResultingFlag: models.FlagAbnormal}, wantErr: "ordinal_values"},
		{name: "expr without expression", rule: Rule{AnalyteMatch: "GLU", Comparator: ComparatorExpr, ResultingFlag: models.FlagHigh}, wantErr: "expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
