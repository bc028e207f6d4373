package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	obsmetrics "github.com/smallbiznis/keygate/internal/observability/metrics"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeMaintenance struct {
	purgeCutoff   time.Time
	purgeBatch    int
	purgeDeleted  int64
	purgeErr      error
	since         time.Time
	threshold     int
	flagged       []accesskeydomain.RedemptionCount
	suspiciousErr error
}

func (f *fakeMaintenance) PurgeCreatedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	f.purgeCutoff = cutoff
	f.purgeBatch = batchSize
	return f.purgeDeleted, f.purgeErr
}

func (f *fakeMaintenance) SuspiciousRedeemers(ctx context.Context, since time.Time, threshold int) ([]accesskeydomain.RedemptionCount, error) {
	f.since = since
	f.threshold = threshold
	return f.flagged, f.suspiciousErr
}

type fakeExpiry struct {
	count int64
	err   error
	calls int
}

func (f *fakeExpiry) CountExpired(ctx context.Context) (int64, error) {
	f.calls++
	return f.count, f.err
}

type fakeLocker struct {
	held     bool
	err      error
	released []string
}

func (l *fakeLocker) Enabled() bool { return true }

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	return "token-" + key, true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	l.released = append(l.released, key)
	return nil
}

type harness struct {
	sched    *Scheduler
	keys     *fakeMaintenance
	expiry   *fakeExpiry
	registry *prometheus.Registry
}

func newHarness(t *testing.T, locker JobLocker) *harness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	registry := prometheus.NewRegistry()
	h := &harness{
		keys:     &fakeMaintenance{},
		expiry:   &fakeExpiry{},
		registry: registry,
	}
	h.sched = &Scheduler{
		log:           zaptest.NewLogger(t),
		cfg:           Config{}.withDefaults(),
		clock:         clock.NewFakeClock(testNow),
		genID:         node,
		keys:          h.keys,
		subscriptions: h.expiry,
		locker:        locker,
		schedMetrics: obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{
			ServiceName: "keygate",
			Environment: "test",
		}),
	}
	return h
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	h := newHarness(t, nil)

	err := h.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{"service": "keygate", "env": "test", "job": "timeout_job"}
	if got := getCounterValue(t, h.registry, "keygate_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "keygate",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, h.registry, "keygate_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobWrapsFailures(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("boom")

	err := h.sched.runJob(context.Background(), "failing_job", 0, time.Second, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestAccessKeyRetentionJobPurgesBeforeCutoff(t *testing.T) {
	h := newHarness(t, nil)
	h.keys.purgeDeleted = 3

	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	wantCutoff := testNow.Add(-30 * 24 * time.Hour)
	if !h.keys.purgeCutoff.Equal(wantCutoff) {
		t.Fatalf("expected cutoff %v, got %v", wantCutoff, h.keys.purgeCutoff)
	}
	if h.keys.purgeBatch != 50 {
		t.Fatalf("expected batch size 50, got %d", h.keys.purgeBatch)
	}
	labels := map[string]string{"service": "keygate", "env": "test", "job": JobAccessKeyRetention, "resource": "access_keys"}
	if got := getCounterValue(t, h.registry, "keygate_scheduler_batch_processed_total", labels); got != 3 {
		t.Fatalf("expected 3 processed, got %v", got)
	}
}

func TestSuspiciousActivityJobUsesWindowAndThreshold(t *testing.T) {
	h := newHarness(t, nil)
	h.keys.flagged = []accesskeydomain.RedemptionCount{{UserID: 42, Total: 11}}

	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !h.keys.since.Equal(testNow.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected window start %v", h.keys.since)
	}
	if h.keys.threshold != 10 {
		t.Fatalf("expected threshold 10, got %d", h.keys.threshold)
	}
	if h.expiry.calls != 1 {
		t.Fatalf("expected expired subscription scan, got %d calls", h.expiry.calls)
	}
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.expiry.err = errors.New("db down")
	h.keys.suspiciousErr = errors.New("query failed")

	err := h.sched.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if !errors.Is(err, h.expiry.err) || !errors.Is(err, h.keys.suspiciousErr) {
		t.Fatalf("expected both job errors, got %v", err)
	}
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	locker := &fakeLocker{held: true}
	h := newHarness(t, locker)

	ran := false
	err := h.sched.runJob(context.Background(), JobAccessKeyRetention, 0, time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ran {
		t.Fatalf("job must not run while another instance holds the lock")
	}
	labels := map[string]string{"service": "keygate", "env": "test", "job": JobAccessKeyRetention, "reason": obsmetrics.SchedulerSkipReasonLockHeld}
	if got := getCounterValue(t, h.registry, "keygate_scheduler_job_skipped_total", labels); got != 1 {
		t.Fatalf("expected skipped count 1, got %v", got)
	}
}

func TestRunJobReleasesLock(t *testing.T) {
	locker := &fakeLocker{}
	h := newHarness(t, locker)

	ran := false
	if err := h.sched.runJob(context.Background(), JobExpiredSubscriptions, 0, time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if !ran {
		t.Fatalf("expected job to run")
	}
	if len(locker.released) != 1 || locker.released[0] != "scheduler:lock:"+JobExpiredSubscriptions {
		t.Fatalf("unexpected releases %v", locker.released)
	}
}

func TestRunJobRunsWhenLockBackendFails(t *testing.T) {
	h := newHarness(t, &fakeLocker{err: errors.New("redis down")})

	ran := false
	if err := h.sched.runJob(context.Background(), JobSuspiciousActivity, 0, time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if !ran {
		t.Fatalf("expected job to run without the lock")
	}
}

func TestEnabledJobsFilter(t *testing.T) {
	h := newHarness(t, nil)
	h.sched.cfg.EnabledJobs = []string{"EXPIRED_SUBSCRIPTIONS"}

	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if h.expiry.calls != 1 {
		t.Fatalf("expected enabled job to run")
	}
	if !h.keys.purgeCutoff.IsZero() {
		t.Fatalf("retention job should be disabled")
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
