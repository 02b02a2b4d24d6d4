package repositories

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultAuditRetention is how long persisted security events are kept when
// no retention window is configured.
const DefaultAuditRetention = 90 * 24 * time.Hour

// AuditRetentionScheduler prunes expired audit_logs rows in the background
// so the security trail does not grow without bound.
type AuditRetentionScheduler struct {
	repo      AuditLogRepository
	retention time.Duration
	logger    *zap.Logger
}

// NewAuditRetentionScheduler creates a scheduler that keeps persisted events
// for the given window. Non-positive retention falls back to
// DefaultAuditRetention.
func NewAuditRetentionScheduler(repo AuditLogRepository, retention time.Duration, logger *zap.Logger) *AuditRetentionScheduler {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	return &AuditRetentionScheduler{
		repo:      repo,
		retention: retention,
		logger:    logger.Named("audit-retention"),
	}
}

// Run starts a background goroutine that prunes expired events immediately,
// then once per interval. Cancel the context to stop the scheduler.
func (s *AuditRetentionScheduler) Run(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Audit retention scheduler started",
			zap.Duration("interval", interval),
			zap.Duration("retention", s.retention))

		// Run immediately on startup, then at each interval
		s.prune(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Audit retention scheduler stopped")
				return
			case <-ticker.C:
				s.prune(ctx)
			}
		}
	}()
}

func (s *AuditRetentionScheduler) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Failed to prune audit events", zap.Error(err))
		}
		return
	}
	if removed > 0 {
		s.logger.Info("Retention cleanup completed",
			zap.Int64("removed", removed),
			zap.Duration("retention", s.retention))
	}
}
