package artifact

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepConfig controls the periodic orphan sweep.
type SweepConfig struct {
	Interval  time.Duration // how often a pass runs (default: 1h)
	Retention time.Duration // minimum age of an unreferenced artifact before it is swept (default: 24h)
	Enabled   bool
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:  time.Hour,
		Retention: 24 * time.Hour,
		Enabled:   true,
	}
}

// Sweeper runs Store.SweepOrphans on a ticker until stopped.
type Sweeper struct {
	store *Store
	cfg   SweepConfig
	log   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewSweeper(store *Store, cfg SweepConfig, log *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepConfig().Interval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultSweepConfig().Retention
	}
	return &Sweeper{
		store:  store,
		cfg:    cfg,
		log:    log.With("component", "orphan_sweeper"),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// RunOnce performs a single pass and logs its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	res, err := s.store.SweepOrphans(ctx, s.cfg.Retention)
	if err != nil {
		s.log.Error("orphan sweep failed", "error", err, "scanned", res.Scanned, "deleted", res.Deleted)
		return res, err
	}
	s.log.Info("orphan sweep completed",
		"scanned", res.Scanned,
		"deleted", res.Deleted,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", time.Since(start),
	)
	return res, nil
}

// Start launches the background loop. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("orphan sweep is disabled")
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_, _ = s.RunOnce(ctx)
			case <-s.stopCh:
				s.log.Info("orphan sweep stopped")
				return
			case <-ctx.Done():
				s.log.Info("orphan sweep stopped", "reason", ctx.Err())
				return
			}
		}
	}()

	s.log.Info("orphan sweep scheduled", "interval", s.cfg.Interval, "retention", s.cfg.Retention)
}

// Stop ends the loop and waits for an in-flight pass to finish. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}
