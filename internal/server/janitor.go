package server

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/logger"
)

// Janitor runs scheduled maintenance: expired probe tokens are purged and
// finished sessions past their retention window are removed.
type Janitor struct {
	cfg   *config.Config
	store store.Store
	cron  *cron.Cron
}

// NewJanitor creates a janitor on the configured schedule.
func NewJanitor(cfg *config.Config, st store.Store) *Janitor {
	return &Janitor{cfg: cfg, store: st, cron: cron.New()}
}

// Start registers the cleanup pass and starts the scheduler.
func (j *Janitor) Start() error {
	schedule := j.cfg.Janitor.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	logger.Info("Janitor started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// sweep is one maintenance pass.
func (j *Janitor) sweep() {
	now := time.Now()

	purged, err := j.store.Token().DeleteExpired(now)
	if err != nil {
		logger.Warn("Janitor failed to purge expired tokens", zap.Error(err))
	} else if purged > 0 {
		logger.Info("Janitor purged expired tokens", zap.Int64("count", purged))
	}

	retention := j.cfg.Janitor.RetentionDays
	if retention <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -retention)

	sessions, err := j.store.Session().List()
	if err != nil {
		logger.Warn("Janitor failed to list sessions", zap.Error(err))
		return
	}
	for _, s := range sessions {
		if s.Phase != model.PhaseComplete || s.FinishedAt == nil || s.FinishedAt.After(cutoff) {
			continue
		}
		if err := j.store.Session().Delete(s.ID); err != nil {
			logger.Warn("Janitor failed to delete session",
				zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		if err := j.store.Token().DeleteBySession(s.ID); err != nil {
			logger.Warn("Janitor failed to delete session tokens",
				zap.String("session_id", s.ID), zap.Error(err))
		}
		logger.Info("Janitor removed retired session",
			zap.String("session_id", s.ID),
			zap.Time("finished_at", *s.FinishedAt),
		)
	}
}
