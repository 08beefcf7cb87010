package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intelhub/internal/hubtypes"
)

func TestScheduler_DuplicateTaskIDRejected(t *testing.T) {
	s := New(nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.ExecuteTask("task-1", time.Hour, func(ctx context.Context) error { return nil }))
	err := s.ExecuteTask("task-1", time.Hour, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, hubtypes.ErrDuplicateTask)
}

func TestScheduler_ExecuteTaskFiresAfterDelay(t *testing.T) {
	s := New(nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	var fired int32
	require.NoError(t, s.ExecuteTask("fire-once", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_FailingTaskDoesNotBlockOthers(t *testing.T) {
	s := New(nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	var otherFired int32
	require.NoError(t, s.ExecuteTask("failing", 10*time.Millisecond, func(ctx context.Context) error {
		return assertErr
	}))
	require.NoError(t, s.ExecuteTask("healthy", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&otherFired, 1)
		return nil
	}))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&otherFired) == 1 }, time.Second, 5*time.Millisecond)
}

var assertErr = &schedErr{"boom"}

type schedErr struct{ msg string }

func (e *schedErr) Error() string { return e.msg }

func TestNextWeekday_RollsToNextWeekWhenTargetIsToday(t *testing.T) {
	from := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) // a Friday
	next := nextWeekday(from, time.Friday)
	require.Equal(t, time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC), next)
}

func TestNextMonthDay_ClampsToLastDayOfShortMonth(t *testing.T) {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	next := nextMonthDay(from, 31)
	require.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), next)
}
