package toolserver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	trailingPunct = regexp.MustCompile(`[\s,.;:!?]+$`)
	relativeFire  = regexp.MustCompile(`^(?:in\s+)?(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h)\s*(?:from\s+now)?$`)
	weekdayDue    = regexp.MustCompile(`^(this|next)?\s*(monday|tuesday|wednesday|thursday|friday|saturday|sunday)$`)
)

var weekdayIndex = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// parseFireAt accepts either a relative phrase ("30 seconds from now",
// "in 5 min", "2 hours") or an ISO-8601 datetime. Naive datetimes are
// interpreted in loc. The result is always UTC.
func parseFireAt(value string, loc *time.Location, now time.Time) (time.Time, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	relativeRaw := trailingPunct.ReplaceAllString(raw, "")

	if match := relativeFire.FindStringSubmatch(relativeRaw); match != nil {
		amount, err := strconv.Atoi(match[1])
		if err != nil {
			return time.Time{}, err
		}
		base := now.In(loc).Truncate(time.Second)
		switch strings.TrimSuffix(match[2], "s") {
		case "second", "sec", "s":
			return base.Add(time.Duration(amount) * time.Second).UTC(), nil
		case "minute", "min", "m":
			return base.Add(time.Duration(amount) * time.Minute).UTC(), nil
		default:
			return base.Add(time.Duration(amount) * time.Hour).UTC(), nil
		}
	}

	trimmed := strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		var parsed time.Time
		var err error
		if layout == time.RFC3339 {
			parsed, err = time.Parse(layout, trimmed)
		} else {
			parsed, err = time.ParseInLocation(layout, trimmed, loc)
		}
		if err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"fire_at must be ISO-8601 datetime or relative phrase like '30 seconds from now' or 'in 1 min'")
}

// resolveDueOn maps a due-date phrase to an ISO date. Supported:
// "today", "tomorrow", "next week" (end of next week), "this <weekday>",
// "next <weekday>" (at least a week ahead), and ISO dates. Empty input
// resolves to empty.
func resolveDueOn(value string, today time.Time) (string, error) {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return "", nil
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	switch s {
	case "today":
		return day.Format("2006-01-02"), nil
	case "tomorrow":
		return day.AddDate(0, 0, 1).Format("2006-01-02"), nil
	case "next week", "nextweek":
		return endOfNextWeek(day).Format("2006-01-02"), nil
	}

	if match := weekdayDue.FindStringSubmatch(s); match != nil {
		target := nextWeekday(day, weekdayIndex[match[2]], match[1] == "next")
		return target.Format("2006-01-02"), nil
	}

	parsed, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", fmt.Errorf("unsupported due_on value %q", value)
	}
	return parsed.Format("2006-01-02"), nil
}

// endOfNextWeek is the Sunday closing the week after the current one.
func endOfNextWeek(today time.Time) time.Time {
	daysUntilNextMonday := 7 - mondayIndexed(today.Weekday())
	nextMonday := today.AddDate(0, 0, daysUntilNextMonday)
	return nextMonday.AddDate(0, 0, 6)
}

func nextWeekday(today time.Time, target time.Weekday, forceNextWeek bool) time.Time {
	delta := (mondayIndexed(target) - mondayIndexed(today.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	result := today.AddDate(0, 0, delta)
	if forceNextWeek && delta < 7 {
		result = result.AddDate(0, 0, 7)
	}
	return result
}

// mondayIndexed maps Monday to 0 through Sunday to 6.
func mondayIndexed(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
