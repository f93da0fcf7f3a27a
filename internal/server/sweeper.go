package server

import (
	"context"
	"time"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/storage"
)

// Sweeper periodically drops access-log entries past the retention window.
type Sweeper struct {
	logs     storage.AccessLogStore
	logger   logger.Logger
	interval time.Duration
	days     int
}

// NewSweeper creates a sweeper. A non-positive days value falls back to
// storage.DefaultRetentionDays.
func NewSweeper(logs storage.AccessLogStore, log logger.Logger, interval time.Duration, days int) *Sweeper {
	if days <= 0 {
		days = storage.DefaultRetentionDays
	}
	return &Sweeper{logs: logs, logger: log, interval: interval, days: days}
}

// Run sweeps once per interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single retention pass.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	removed, err := s.logs.DeleteOld(ctx, s.days)
	if err != nil {
		s.logger.Error("Access log sweep failed", "error", err, "retention_days", s.days)
		return 0
	}
	if removed > 0 {
		s.logger.Info("Access log sweep removed old entries", "removed", removed, "retention_days", s.days)
	}
	return removed
}
