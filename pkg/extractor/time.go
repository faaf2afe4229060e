package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var daysAgoRe = regexp.MustCompile(`^(\d+)\s*(?:days?\s*ago|天前)$`)

var clockRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)

// absoluteLayouts are tried in order for ISO-ish timestamps. Models are
// inconsistent about the T separator and seconds.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseRecordTime resolves a model-returned time expression against the
// submission anchor, in Beijing local time. It returns nil when the
// expression is empty, unparseable, or more than a day in the future
// (models must not invent future events).
func ParseRecordTime(raw string, anchor time.Time, loc *time.Location) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return nil
	}
	local := anchor.In(loc)

	var resolved time.Time
	var ok bool
	if resolved, ok = parseAbsolute(raw, loc); !ok {
		resolved, ok = parseRelative(strings.ToLower(raw), local, loc)
	}
	if !ok {
		return nil
	}
	if resolved.After(anchor.Add(24 * time.Hour)) {
		return nil
	}
	return &resolved
}

func parseAbsolute(raw string, loc *time.Location) (time.Time, bool) {
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseRelative(raw string, local time.Time, loc *time.Location) (time.Time, bool) {
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	hour, minute, hasClock := extractClock(raw)
	at := func(base time.Time) time.Time {
		if hasClock {
			return base.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
		}
		// No explicit clock: keep the anchor's time of day.
		return base.Add(local.Sub(day))
	}

	switch {
	case strings.Contains(raw, "today") || strings.Contains(raw, "今天"):
		return at(day), true
	case strings.Contains(raw, "last night") || strings.Contains(raw, "昨晚"):
		// "last night 23:30" is yesterday's date; "last night 1:30" already
		// rolled past midnight into today.
		if hasClock && hour < 12 {
			return at(day), true
		}
		if !hasClock {
			return day.AddDate(0, 0, -1).Add(23 * time.Hour), true
		}
		return at(day.AddDate(0, 0, -1)), true
	case strings.Contains(raw, "yesterday") || strings.Contains(raw, "昨天"):
		return at(day.AddDate(0, 0, -1)), true
	}

	if m := daysAgoRe.FindStringSubmatch(strings.TrimSpace(raw)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 || n > 365 {
			return time.Time{}, false
		}
		return at(day.AddDate(0, 0, -n)), true
	}
	return time.Time{}, false
}

func extractClock(raw string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
