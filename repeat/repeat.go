// Package repeat parses cron expressions for repeatable jobs. Both the
// producer (first occurrence) and the scheduler (subsequent occurrences)
// compute due times through the same parser so they never disagree.
package repeat

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// parser accepts standard 5-field cron expressions plus descriptors like
// "@every 30s" and "@hourly".
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Schedule yields successive activation times.
type Schedule = cronlib.Schedule

// Parse parses a repeat expression.
func Parse(expr string) (Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("repeat: parse %q: %w", expr, err)
	}
	return sched, nil
}

// Next returns the first activation strictly after t.
func Next(expr string, t time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}
