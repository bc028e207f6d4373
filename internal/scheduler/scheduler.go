package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	obsmetrics "github.com/smallbiznis/keygate/internal/observability/metrics"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobAccessKeyRetention   = "access_key_retention"
	JobExpiredSubscriptions = "expired_subscriptions"
	JobSuspiciousActivity   = "suspicious_activity"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// JobLocker serializes a job across instances.
type JobLocker interface {
	Enabled() bool
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// ExpiryCounter reports how many subscriptions have lapsed.
type ExpiryCounter interface {
	CountExpired(ctx context.Context) (int64, error)
}

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	GenID         *snowflake.Node
	Keys          accesskeydomain.Maintenance
	Subscriptions subscriptiondomain.Service
	Config        Config                       `optional:"true"`
	Locker        *ratelimit.Locker            `optional:"true"`
	Metrics       *obsmetrics.Metrics          `optional:"true"`
	SchedMetrics  *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	genID         *snowflake.Node
	keys          accesskeydomain.Maintenance
	subscriptions ExpiryCounter
	locker        JobLocker
	metrics       *obsmetrics.Metrics
	schedMetrics  *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Keys == nil || p.Subscriptions == nil {
		return nil, ErrInvalidConfig
	}
	schedMetrics := p.SchedMetrics
	if schedMetrics == nil {
		schedMetrics = obsmetrics.Scheduler()
	}
	var locker JobLocker
	if p.Locker != nil {
		locker = p.Locker
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		genID:         p.GenID,
		keys:          p.Keys,
		subscriptions: p.Subscriptions,
		locker:        locker,
		metrics:       p.Metrics,
		schedMetrics:  schedMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	release, acquired := s.acquireJobLock(parent, name)
	if !acquired {
		return nil
	}
	defer release()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.schedMetrics.IncJobRun(name)

	err := fn(ctx)
	s.schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.schedMetrics.IncJobTimeout(name)
	}
	s.schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquireJobLock returns false when another instance holds the job lock.
// Lock backend failures fall through to running the job locally.
func (s *Scheduler) acquireJobLock(ctx context.Context, name string) (func(), bool) {
	noop := func() {}
	if s.locker == nil || !s.locker.Enabled() {
		return noop, true
	}

	key := "scheduler:lock:" + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("scheduler lock unavailable", zap.String("job", name), zap.Error(err))
		return noop, true
	}
	if !ok {
		s.schedMetrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld)
		s.log.Debug("scheduler job skipped", zap.String("job", name), zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld))
		return noop, false
	}
	return func() {
		if err := s.locker.Release(context.Background(), key, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
		}
	}, true
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name      string
		BatchSize int
		Run       func(context.Context) error
	}{
		{JobAccessKeyRetention, s.cfg.CleanupBatchSize, s.AccessKeyRetentionJob},
		{JobExpiredSubscriptions, 0, s.ExpiredSubscriptionsJob},
		{JobSuspiciousActivity, 0, s.SuspiciousActivityJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	if s.cfg.RunOnStart {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}

	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
