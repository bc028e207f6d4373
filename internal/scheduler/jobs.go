package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AccessKeyRetentionJob deletes keys older than the retention window, used or not.
func (s *Scheduler) AccessKeyRetentionJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	deleted, err := s.keys.PurgeCreatedBefore(ctx, cutoff, s.cfg.CleanupBatchSize)
	if deleted > 0 {
		jobRunFromContext(ctx).AddProcessed(int(deleted))
		s.schedMetrics.AddBatchProcessed(JobAccessKeyRetention, "access_keys", int(deleted))
	}
	if err != nil {
		s.logSchedulerError(ctx, "access key retention failed", err, zap.Int64("deleted", deleted))
		return err
	}
	s.logger(ctx).Info("access keys purged",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
	return nil
}

// ExpiredSubscriptionsJob reports lapsed subscriptions. Rows are kept so renewals overwrite them.
func (s *Scheduler) ExpiredSubscriptionsJob(ctx context.Context) error {
	count, err := s.subscriptions.CountExpired(ctx)
	if err != nil {
		s.logSchedulerError(ctx, "expired subscription scan failed", err)
		return err
	}
	jobRunFromContext(ctx).AddProcessed(int(count))
	s.logger(ctx).Info("expired subscriptions", zap.Int64("count", count))
	return nil
}

// SuspiciousActivityJob flags users who redeemed more keys than the threshold inside the window.
func (s *Scheduler) SuspiciousActivityJob(ctx context.Context) error {
	since := s.clock.Now().Add(-s.cfg.SuspiciousWindow)
	flagged, err := s.keys.SuspiciousRedeemers(ctx, since, s.cfg.SuspiciousThreshold)
	if err != nil {
		s.logSchedulerError(ctx, "suspicious activity scan failed", err)
		return err
	}
	for _, row := range flagged {
		s.logger(ctx).Warn("suspicious key redemption volume",
			zap.String("user_id", row.UserID.String()),
			zap.Int64("redemptions", row.Total),
			zap.Duration("window", s.cfg.SuspiciousWindow),
		)
	}
	jobRunFromContext(ctx).AddProcessed(len(flagged))
	s.metrics.RecordSuspiciousRedeemers(ctx, len(flagged))
	return nil
}
