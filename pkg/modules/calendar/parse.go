package calendar

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	defaultDuration = time.Hour
	defaultHour     = 10
	tonightHour     = 20
)

var (
	durationRe  = regexp.MustCompile(`(?i)\bfor\s+(\d+|an?|one|two|three|half an)\s+(minutes?|mins?|hours?|hrs?)\b`)
	relativeRe  = regexp.MustCompile(`(?i)\bin\s+(\d+|an?|one|two|three|half an)\s+(minutes?|mins?|hours?|hrs?|days?)\b`)
	dayRe       = regexp.MustCompile(`(?i)\b(?:on\s+)?(today|tomorrow|tonight|next\s+week|(?:next\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
	partRe      = regexp.MustCompile(`(?i)\b(?:in\s+the\s+)?(morning|afternoon|evening)\b`)
	clockRe     = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	bareClockRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	verbRe      = regexp.MustCompile(`(?i)^\s*(?:(?:please|can you|could you)\s+)*(?:schedule|book|plan|set\s+up|add|create|put)\s+(?:(?:an?|the|my)\s+)?`)
	calendarRe  = regexp.MustCompile(`(?i)\b(?:on|to|in|into)\s+(?:my|the)\s+calendar\b`)
	danglingRe  = regexp.MustCompile(`(?i)\s+(?:on|at|for|to)$`)
)

var partHours = map[string]int{"morning": 9, "afternoon": 14, "evening": 18}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// Draft is an event request read from free text.
type Draft struct {
	Title    string
	Start    time.Time
	Duration time.Duration
	// Explicit is false when no time expression was found and the start
	// defaulted to an hour from now.
	Explicit bool
}

// Parse reads the title, start and duration of an event request. A bare
// clock time that already passed today moves to tomorrow.
func Parse(text string, now time.Time) Draft {
	d := Draft{Start: now.Add(time.Hour), Duration: defaultDuration}
	rest := text

	if sub := durationRe.FindStringSubmatch(rest); sub != nil {
		if dur, ok := span(sub[1], sub[2]); ok {
			d.Duration = dur
		}
		rest = durationRe.ReplaceAllString(rest, " ")
	}

	relative := false
	if sub := relativeRe.FindStringSubmatch(rest); sub != nil {
		if offset, ok := span(sub[1], sub[2]); ok {
			d.Start, d.Explicit, relative = now.Add(offset), true, true
		}
		rest = relativeRe.ReplaceAllString(rest, " ")
	}

	day := ""
	if sub := dayRe.FindStringSubmatch(rest); sub != nil {
		day = strings.Join(strings.Fields(strings.ToLower(sub[1])), " ")
		rest = dayRe.ReplaceAllString(rest, " ")
	}

	part := ""
	if sub := partRe.FindStringSubmatch(rest); sub != nil {
		part = strings.ToLower(sub[1])
		rest = partRe.ReplaceAllString(rest, " ")
	}

	hour, minute, meridiem, hasClock := 0, 0, false, false
	for _, re := range []*regexp.Regexp{clockRe, bareClockRe} {
		loc := re.FindStringSubmatchIndex(rest)
		if loc == nil {
			continue
		}
		if h, m, pm, ok := clock(rest, loc); ok {
			hour, minute, meridiem, hasClock = h, m, pm, true
			rest = rest[:loc[0]] + " " + rest[loc[1]:]
			break
		}
	}

	if !relative && (day != "" || part != "" || hasClock) {
		date := now
		switch day {
		case "", "today", "tonight":
		case "tomorrow":
			date = now.AddDate(0, 0, 1)
		case "next week":
			date = now.AddDate(0, 0, 7)
		default:
			date = nextWeekday(now, weekdays[strings.TrimPrefix(day, "next ")])
		}

		switch {
		case hasClock:
			if !meridiem && hour < 12 && (day == "tonight" || part == "afternoon" || part == "evening") {
				hour += 12
			}
		case part != "":
			hour, minute = partHours[part], 0
		case day == "tonight":
			hour, minute = tonightHour, 0
		default:
			hour, minute = defaultHour, 0
		}

		d.Start, d.Explicit = at(date, hour, minute), true
		if day == "" && !d.Start.After(now) {
			d.Start = d.Start.AddDate(0, 0, 1)
		}
	}

	d.Title = title(rest, text)
	return d
}

func title(rest, original string) string {
	t := calendarRe.ReplaceAllString(rest, " ")
	t = verbRe.ReplaceAllString(t, "")
	t = strings.Join(strings.Fields(t), " ")
	t = strings.TrimRight(t, ".!?,")
	t = danglingRe.ReplaceAllString(t, "")

	if t == "" {
		lower := strings.ToLower(original)
		switch {
		case strings.Contains(lower, "meeting"):
			t = "meeting"
		case strings.Contains(lower, "appointment"):
			t = "appointment"
		case strings.Contains(lower, "call"):
			t = "call"
		default:
			t = "event"
		}
	}

	r, size := utf8.DecodeRuneInString(t)
	return string(unicode.ToUpper(r)) + t[size:]
}

// clock reads a match of clockRe or bareClockRe.
func clock(text string, loc []int) (hour, minute int, meridiem, ok bool) {
	hour, _ = strconv.Atoi(text[loc[2]:loc[3]])
	if loc[4] >= 0 {
		minute, _ = strconv.Atoi(text[loc[4]:loc[5]])
	}
	if loc[6] >= 0 {
		meridiem = true
		switch strings.ToLower(text[loc[6]:loc[7]]) {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
	}

	return hour, minute, meridiem, hour < 24 && minute < 60
}

func span(amount, unit string) (time.Duration, bool) {
	var count float64
	switch amount = strings.ToLower(amount); amount {
	case "a", "an", "one":
		count = 1
	case "two":
		count = 2
	case "three":
		count = 3
	case "half an":
		count = 0.5
	default:
		n, err := strconv.Atoi(amount)
		if err != nil || n <= 0 {
			return 0, false
		}
		count = float64(n)
	}

	switch unit = strings.ToLower(unit); {
	case strings.HasPrefix(unit, "m"):
		return time.Duration(count * float64(time.Minute)), count >= 1
	case strings.HasPrefix(unit, "h"):
		return time.Duration(count * float64(time.Hour)), true
	case strings.HasPrefix(unit, "d"):
		return time.Duration(count * 24 * float64(time.Hour)), true
	}

	return 0, false
}

// nextWeekday returns the next occurrence of day strictly after now's date.
func nextWeekday(now time.Time, day time.Weekday) time.Time {
	ahead := int(day - now.Weekday())
	if ahead <= 0 {
		ahead += 7
	}
	return now.AddDate(0, 0, ahead)
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func startOfDay(t time.Time) time.Time {
	return at(t, 0, 0)
}
