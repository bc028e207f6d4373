package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "other pg error", err: &pgconn.PgError{Code: "42P01"}, want: SchedulerJobReasonDB},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewSchedulerMetrics(registry, Config{
		ServiceName: "keygate",
		Environment: "test",
	})

	metrics.AddBatchProcessed("access_key_retention", "access_keys", 3)
	metrics.IncJobSkipped("access_key_retention", SchedulerSkipReasonLockHeld)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("access_key_retention", "access_keys"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	skipped := testutil.ToFloat64(metrics.jobSkipped.WithLabelValues("access_key_retention", SchedulerSkipReasonLockHeld))
	if skipped != 1 {
		t.Fatalf("expected skipped count 1, got %v", skipped)
	}
}
