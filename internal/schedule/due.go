package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard five-field cron (minute hour dom month dow). No seconds, no
// descriptors: schedules come from tenants over the API, keep the accepted
// grammar small.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a cron expression the way the due evaluator will
// interpret it. Used at creation time so bad expressions never reach storage.
func ParseCron(expr string) (cron.Schedule, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// RecurringDue reports whether the schedule should fire at now.
//
// The anchor is last_run when set, else created_at; the schedule is due once
// now reaches the first cron boundary strictly after the anchor. A schedule
// that has never run therefore fires at the first boundary after creation,
// not at creation itself.
func RecurringDue(s Recurring, now time.Time) (bool, error) {
	anchor := s.CreatedAt
	if s.LastRun != nil {
		anchor = *s.LastRun
	}
	sched, err := ParseCron(s.Cron)
	if err != nil {
		return false, err
	}
	next := sched.Next(anchor.UTC())
	return !now.UTC().Before(next), nil
}

// OneTimeDue reports whether the schedule should fire at now.
// The boundary is inclusive: due exactly at execute_at.
func OneTimeDue(s OneTime, now time.Time) bool {
	return !now.UTC().Before(s.ExecuteAt.UTC())
}
