package flagging

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"labflow/internal/config"
	"labflow/internal/logger"
	"labflow/pkg/metrics"
	"labflow/pkg/tracing"
)

// Service caches the current flagging snapshot and refreshes it from the
// repository.
type Service struct {
	repo       Repository
	snapshot   Snapshot
	loaded     bool
	snapshotMu sync.RWMutex
	cfg        config.FlaggingConfig
	logger     logger.Logger
}

func NewService(repo Repository, cfg config.FlaggingConfig, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: log,
	}
}

// Current returns the cached snapshot, loading it on first use. The value is
// never mutated afterwards, so callers may hold it for a whole run.
func (s *Service) Current(ctx context.Context) (Snapshot, error) {
	s.snapshotMu.RLock()
	snapshot, loaded := s.snapshot, s.loaded
	s.snapshotMu.RUnlock()
	if loaded {
		return snapshot, nil
	}

	if err := s.ReloadRules(ctx, true); err != nil {
		return Snapshot{}, err
	}

	s.snapshotMu.RLock()
	defer s.snapshotMu.RUnlock()
	return s.snapshot, nil
}

func (s *Service) ReloadRules(ctx context.Context, skipJitter ...bool) error {
	ctx, span := tracing.GetTracer("flagging").Start(ctx, "flagging.reload")
	defer span.End()

	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := s.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	snapshot, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.update(ctx, snapshot)
	return nil
}

func (s *Service) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || s.cfg.Reload.JitterMaxMilliseconds == 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(s.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) load(ctx context.Context) (Snapshot, error) {
	version, err := s.repo.CurrentVersion(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load current flagging version: %w", err)
	}
	if version == nil {
		return Snapshot{}, nil
	}

	rules, err := s.repo.GetRules(ctx, version.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load flagging rules for version %s: %w", version.ID, err)
	}

	return NewSnapshot(version, rules), nil
}

func (s *Service) update(ctx context.Context, snapshot Snapshot) {
	s.snapshotMu.Lock()
	s.snapshot = snapshot
	s.loaded = true
	s.snapshotMu.Unlock()

	metrics.SetFlaggingActiveRules(len(snapshot.Rules))
	s.logger.InfowCtx(ctx, "Successfully reloaded flagging rules",
		"version_id", snapshot.VersionID(),
		"rules_count", len(snapshot.Rules),
	)
}

func (s *Service) StartReloader(ctx context.Context) error {
	interval := time.Duration(s.cfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.ReloadRules(ctx); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload flagging rules",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadRules(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload flagging rules",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
