package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func TestScheduleNext(t *testing.T) {
	t.Parallel()

	at := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name     string
		schedule queue.Schedule
		from     time.Time
		want     time.Time
		str      string
	}{
		{
			name:     "fixed interval",
			schedule: queue.EveryInterval(30 * time.Second),
			from:     at(2024, 1, 1, 10, 0),
			want:     at(2024, 1, 1, 10, 0).Add(30 * time.Second),
			str:      "cron @every 30s",
		},
		{
			name:     "hourly",
			schedule: queue.Hourly(),
			from:     at(2024, 1, 1, 14, 15),
			want:     at(2024, 1, 1, 15, 0),
			str:      "cron 0 * * * *",
		},
		{
			name:     "hourly later this hour",
			schedule: queue.HourlyAt(30),
			from:     at(2024, 1, 1, 14, 15),
			want:     at(2024, 1, 1, 14, 30),
			str:      "cron 30 * * * *",
		},
		{
			name:     "daily rolls to tomorrow",
			schedule: queue.DailyAt(9, 0),
			from:     at(2024, 1, 1, 9, 0),
			want:     at(2024, 1, 2, 9, 0),
			str:      "cron 0 9 * * *",
		},
		{
			name:     "weekly wraps the week",
			schedule: queue.WeeklyOn(time.Monday, 8, 0),
			from:     at(2024, 1, 3, 12, 0), // Wednesday
			want:     at(2024, 1, 8, 8, 0),
			str:      "cron 0 8 * * 1",
		},
		{
			name:     "monthly skips short months",
			schedule: queue.MonthlyOn(31, 12, 0),
			from:     at(2023, 2, 1, 0, 0),
			want:     at(2023, 3, 31, 12, 0),
			str:      "cron 0 12 31 * *",
		},
		{
			name:     "monthly leap year",
			schedule: queue.MonthlyOn(29, 10, 0),
			from:     at(2024, 1, 31, 10, 0),
			want:     at(2024, 2, 29, 10, 0),
			str:      "cron 0 10 29 * *",
		},
		{
			name:     "monthly year boundary",
			schedule: queue.MonthlyOn(5, 10, 0),
			from:     at(2024, 12, 20, 14, 0),
			want:     at(2025, 1, 5, 10, 0),
			str:      "cron 0 10 5 * *",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.schedule.Next(tt.from))
			assert.Equal(t, tt.str, tt.schedule.String())
		})
	}
}

func TestSchedulePreservesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*60*60)
	next := queue.DailyAt(9, 0).Next(time.Date(2024, 1, 1, 14, 0, 0, 0, loc))

	assert.Equal(t, loc, next.Location())
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, loc), next)
}

func TestCron(t *testing.T) {
	t.Parallel()

	t.Run("five field expression", func(t *testing.T) {
		t.Parallel()

		s, err := queue.Cron("0 2 * * *")
		require.NoError(t, err)

		from := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC), s.Next(from))
		assert.Equal(t, "cron 0 2 * * *", s.String())
	})

	t.Run("descriptor", func(t *testing.T) {
		t.Parallel()

		s, err := queue.Cron("@every 15m")
		require.NoError(t, err)

		from := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
		assert.Equal(t, from.Add(15*time.Minute), s.Next(from))
	})

	t.Run("invalid expression", func(t *testing.T) {
		t.Parallel()

		_, err := queue.Cron("every tuesday")
		require.Error(t, err)
		assert.ErrorIs(t, err, queue.ErrInvalidSchedule)

		assert.Panics(t, func() { queue.MustCron("* * *") })
		assert.Panics(t, func() { queue.DailyAt(25, 0) })
	})
}
