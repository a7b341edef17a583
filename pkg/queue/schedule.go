package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule determines when a recurring job should run next
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// cronSchedule is a parsed cron expression. Expressions without CRON_TZ are
// evaluated in the location of the time passed to Next.
type cronSchedule struct {
	expr  string
	sched cron.Schedule
}

func (s cronSchedule) Next(from time.Time) time.Time { return s.sched.Next(from) }
func (s cronSchedule) String() string                { return "cron " + s.expr }

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Cron parses a standard 5-field cron expression or a descriptor such as
// "@hourly" or "@every 15m".
func Cron(expr string) (Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, fmt.Errorf("%q: %w", expr, err))
	}
	return cronSchedule{expr: expr, sched: sched}, nil
}

// MustCron is like Cron but panics on an invalid expression
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// EveryInterval runs every d, measured from the previous occurrence.
// d is truncated to whole seconds and must be at least one second.
func EveryInterval(d time.Duration) Schedule {
	return cronSchedule{expr: "@every " + d.String(), sched: cron.Every(d)}
}

// Hourly runs at the top of every hour
func Hourly() Schedule { return HourlyAt(0) }

// HourlyAt runs every hour at the given minute
func HourlyAt(minute int) Schedule {
	return MustCron(fmt.Sprintf("%d * * * *", minute))
}

// DailyAt runs every day at hour:minute
func DailyAt(hour, minute int) Schedule {
	return MustCron(fmt.Sprintf("%d %d * * *", minute, hour))
}

// WeeklyOn runs every week on weekday at hour:minute
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return MustCron(fmt.Sprintf("%d %d * * %d", minute, hour, weekday))
}

// MonthlyOn runs on the given day of every month at hour:minute.
// Months without that day are skipped.
func MonthlyOn(day, hour, minute int) Schedule {
	return MustCron(fmt.Sprintf("%d %d %d * *", minute, hour, day))
}
