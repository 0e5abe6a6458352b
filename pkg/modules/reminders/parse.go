package reminders

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDelay    = time.Hour
	morningHour     = 9
	eveningHour     = 20
	maxRelativeDays = 365
)

var (
	relativeRe = regexp.MustCompile(`(?i)\bin\s+(\d+|an?|one|two|three|four|five|ten|half an)\s+(minutes?|mins?|hours?|hrs?|days?)\b`)
	clockRe    = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	dayRe      = regexp.MustCompile(`(?i)\b(tomorrow|tonight)\b`)
	prefixRe   = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:set\s+(?:a\s+)?reminder\s*(?:(?:to|for|about|that)\b)?|remind\s+me\s*(?:(?:to|about|that)\b)?)\s*`)
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "ten": 10,
}

// Parse splits a reminder request into its message and due time. explicit
// is false when no time expression was found and the default delay applied.
func Parse(text string, now time.Time) (message string, due time.Time, explicit bool) {
	rest := text
	due = now.Add(defaultDelay)

	day := ""
	if loc := dayRe.FindStringSubmatchIndex(rest); loc != nil {
		day = strings.ToLower(rest[loc[2]:loc[3]])
		rest = rest[:loc[0]] + rest[loc[1]:]
	}

	hour, minute, hasClock := -1, 0, false
	if sub := clockRe.FindStringSubmatchIndex(rest); sub != nil {
		h, _ := strconv.Atoi(rest[sub[2]:sub[3]])
		if sub[4] >= 0 {
			minute, _ = strconv.Atoi(rest[sub[4]:sub[5]])
		}
		if sub[6] >= 0 {
			switch strings.ToLower(rest[sub[6]:sub[7]]) {
			case "pm":
				if h < 12 {
					h += 12
				}
			case "am":
				if h == 12 {
					h = 0
				}
			}
		}
		if h < 24 && minute < 60 {
			hour, hasClock = h, true
			rest = rest[:sub[0]] + rest[sub[1]:]
		}
	}

	switch {
	case relativeRe.MatchString(rest):
		sub := relativeRe.FindStringSubmatch(rest)
		if offset, ok := relativeOffset(sub[1], sub[2]); ok {
			due, explicit = now.Add(offset), true
		}
		rest = relativeRe.ReplaceAllString(rest, "")
	case day == "tomorrow":
		if !hasClock {
			hour, minute = morningHour, 0
		}
		due, explicit = at(now.AddDate(0, 0, 1), hour, minute), true
	case day == "tonight":
		if !hasClock || hour < 12 {
			hour, minute = eveningHour, 0
		}
		due, explicit = at(now, hour, minute), true
		if !due.After(now) {
			due = now.Add(defaultDelay)
		}
	case hasClock:
		due, explicit = at(now, hour, minute), true
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
	}

	message = prefixRe.ReplaceAllString(rest, "")
	message = strings.Join(strings.Fields(message), " ")
	message = strings.TrimRight(message, ".!?,")

	return message, due, explicit
}

func relativeOffset(amount, unit string) (time.Duration, bool) {
	var count float64
	switch amount = strings.ToLower(amount); {
	case amount == "half an":
		count = 0.5
	case numberWords[amount] > 0:
		count = float64(numberWords[amount])
	default:
		n, err := strconv.Atoi(amount)
		if err != nil || n <= 0 {
			return 0, false
		}
		count = float64(n)
	}

	unit = strings.ToLower(unit)
	switch {
	case strings.HasPrefix(unit, "min"):
		return time.Duration(count * float64(time.Minute)), count >= 1
	case strings.HasPrefix(unit, "h"):
		return time.Duration(count * float64(time.Hour)), true
	case strings.HasPrefix(unit, "day"):
		if count > maxRelativeDays {
			return 0, false
		}
		return time.Duration(count * 24 * float64(time.Hour)), true
	}

	return 0, false
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}
