package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var alarmCronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func normalizeCronExpr(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.Join(strings.Fields(trimmed), " ")
}

// ComputeNextFire resolves the next fire time for a recurring alarm in
// the alarm's timezone. An empty expression means one-shot and yields
// the zero time.
func ComputeNextFire(cronExpr, timezone string, from time.Time) (time.Time, error) {
	cronExpr = normalizeCronExpr(cronExpr)
	if cronExpr == "" {
		return time.Time{}, nil
	}
	base := from
	if base.IsZero() {
		base = time.Now().UTC()
	}
	if strings.TrimSpace(timezone) == "" {
		timezone = "UTC"
	}
	location, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone: %w", err)
	}
	spec, err := alarmCronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}
	return spec.Next(base.In(location)).UTC(), nil
}
