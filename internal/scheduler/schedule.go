package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule validates a five-field cron expression or an
// "@every"/"@daily" style descriptor.
func ValidateSchedule(schedule string) error {
	_, err := parser.Parse(schedule)
	return err
}

// EverySchedule returns the descriptor that runs every interval.
func EverySchedule(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}

// Describe returns a human-readable description of a schedule.
func Describe(schedule string) string {
	switch schedule {
	case "0 * * * *":
		return "Every hour at :00"
	case "*/15 * * * *":
		return "Every 15 minutes"
	case "0 3 * * *":
		return "Daily at 03:00"
	case "0 0 * * *", "@daily", "@midnight":
		return "Daily at midnight"
	case "0 0 * * 0", "@weekly":
		return "Weekly on Sunday at midnight"
	}
	if d, ok := everyInterval(schedule); ok {
		return "Every " + d.String()
	}
	return "Custom schedule: " + schedule
}

// NextRunTime returns when schedule next fires after from.
func NextRunTime(schedule string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

func everyInterval(schedule string) (time.Duration, bool) {
	const prefix = "@every "
	if len(schedule) <= len(prefix) || schedule[:len(prefix)] != prefix {
		return 0, false
	}
	d, err := time.ParseDuration(schedule[len(prefix):])
	return d, err == nil
}
