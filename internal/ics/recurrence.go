package ics

import (
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"visitical/internal/model"
)

const (
	freqDaily   = "DAILY"
	freqWeekly  = "WEEKLY"
	freqMonthly = "MONTHLY"
	freqYearly  = "YEARLY"
)

var weekdayCodes = map[string]struct{}{
	"MO": {}, "TU": {}, "WE": {}, "TH": {}, "FR": {}, "SA": {}, "SU": {},
}

// buildRRule renders rec into rule components. start is the first
// occurrence in the visit's own location; UNTIL is anchored to the end of
// the until-day in that location so the final day is included.
func buildRRule(rec *model.Recurrence, start time.Time) (*RRule, error) {
	freq := strings.ToUpper(strings.TrimSpace(rec.Frequency))
	if freq == "" {
		return nil, validationError("Recurrence.Frequency", "is required")
	}
	switch freq {
	case freqDaily, freqWeekly, freqMonthly, freqYearly:
	default:
		return nil, formatError("Recurrence.Frequency", "unsupported frequency %q", rec.Frequency)
	}

	r := &RRule{Freq: freq}
	var err error

	if r.Interval, err = intField("Recurrence.RepeatEvery", rec.RepeatEvery, 1, 1<<16); err != nil {
		return nil, err
	}
	if r.BySetPos, err = intField("Recurrence.SetPosition", rec.SetPosition, -366, 366); err != nil {
		return nil, err
	}
	if ws := strings.TrimSpace(rec.WeekStart); ws != "" {
		if r.WKST, err = dayCode("Recurrence.WeekStart", ws); err != nil {
			return nil, err
		}
	}

	// End condition: UNTIL wins over COUNT when both are given.
	if rec.Until != nil && !rec.Until.IsZero() {
		until := dateOnly(*rec.Until)
		if until.Before(dateOnly(start)) {
			return nil, formatError("Recurrence.Until", "must not be before the arrival date")
		}
		end := time.Date(until.Year(), until.Month(), until.Day(), 23, 59, 59, 0, start.Location())
		r.Until = end.UTC().Format(stampLayout)
	} else if r.Count, err = intField("Recurrence.Occurrences", rec.Occurrences, 1, 1<<16); err != nil {
		return nil, err
	}

	switch freq {
	case freqWeekly:
		if len(rec.Days) == 0 {
			return nil, validationError("Recurrence.Days", "must name at least one weekday for weekly recurrence")
		}
		if r.ByDay, err = dayList(rec.Days); err != nil {
			return nil, err
		}
	case freqDaily:
		if r.ByDay, err = dayList(rec.Days); err != nil {
			return nil, err
		}
	case freqMonthly, freqYearly:
		if r.ByMonth, err = intField("Recurrence.Month", rec.Month, 1, 12); err != nil {
			return nil, err
		}
		if r.ByMonthDay, err = intField("Recurrence.DayOfMonth", rec.DayOfMonth, 1, 31); err != nil {
			return nil, err
		}
		if r.ByDay, err = monthlyByDay(rec); err != nil {
			return nil, err
		}
	}

	if _, err := rrule.StrToRRule(r.Value()); err != nil {
		return nil, formatError("Recurrence", "produces an invalid rule: %v", err)
	}
	return r, nil
}

// monthlyByDay renders either the "nth weekday" form (e.g. 2MO, -1FR) or a
// plain weekday list.
func monthlyByDay(rec *model.Recurrence) (string, error) {
	nth := strings.TrimSpace(rec.DayNumberForMonth)
	if nth == "" {
		return dayList(rec.Days)
	}
	switch {
	case len(rec.Days) == 0:
		return "", validationError("Recurrence.Days", "must name a weekday when DayNumberForMonth is set")
	case len(rec.Days) > 1:
		return "", formatError("Recurrence.Days", "must name exactly one weekday when DayNumberForMonth is set")
	}
	n, err := strconv.Atoi(nth)
	if err != nil || n == 0 || n < -5 || n > 5 {
		return "", formatError("Recurrence.DayNumberForMonth", "must be a non-zero integer between -5 and 5")
	}
	code, err := dayCode("Recurrence.Days[0]", rec.Days[0])
	if err != nil {
		return "", err
	}
	return strconv.Itoa(n) + code, nil
}

func dayList(days []string) (string, error) {
	codes := make([]string, 0, len(days))
	for i, d := range days {
		code, err := dayCode("Recurrence.Days["+strconv.Itoa(i)+"]", d)
		if err != nil {
			return "", err
		}
		codes = append(codes, code)
	}
	return strings.Join(codes, ","), nil
}

// dayCode maps a weekday name ("monday", "Mo", "MO") to its two-letter code.
func dayCode(field, day string) (string, error) {
	day = strings.TrimSpace(day)
	if len(day) < 2 {
		return "", formatError(field, "unknown weekday %q", day)
	}
	code := strings.ToUpper(day[:2])
	if _, ok := weekdayCodes[code]; !ok {
		return "", formatError(field, "unknown weekday %q", day)
	}
	return code, nil
}

// intField validates an optional integer attribute and returns its
// canonical text, or "" when value is empty.
func intField(field, value string, lo, hi int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", formatError(field, "must be an integer")
	}
	if n < lo || n > hi {
		return "", formatError(field, "must be between %d and %d", lo, hi)
	}
	return strconv.Itoa(n), nil
}

// parseRRule decodes an RRULE value. Unknown components are ignored; an
// unparseable UNTIL is fatal.
func parseRRule(value string) (*model.Recurrence, error) {
	rec := &model.Recurrence{}
	for _, tok := range strings.Split(value, ";") {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.ToUpper(strings.TrimSpace(k)) {
		case "FREQ":
			rec.Frequency = strings.ToUpper(v)
		case "BYDAY":
			parseByDay(rec, v)
		case "BYMONTH":
			rec.Month = v
		case "UNTIL":
			t, err := parseStamp(v)
			if err != nil {
				return nil, formatError("Recurrence.Until", "unparseable UNTIL %q", v)
			}
			rec.Until = &t
		case "INTERVAL":
			rec.RepeatEvery = v
		case "COUNT":
			rec.Occurrences = v
		case "BYSETPOS":
			rec.SetPosition = v
		case "BYMONTHDAY":
			rec.DayOfMonth = v
		case "WKST":
			rec.WeekStart = strings.ToUpper(v)
		}
	}
	return rec, nil
}

// untilIsUTC reports whether the UNTIL component of rule carries the UTC
// designator.
func untilIsUTC(rule string) bool {
	for _, tok := range strings.Split(rule, ";") {
		k, v, ok := strings.Cut(tok, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "UNTIL") {
			return strings.HasSuffix(strings.ToUpper(strings.TrimSpace(v)), "Z")
		}
	}
	return false
}

// parseByDay splits the "nth weekday" form into ordinal and code; any other
// value is a comma-separated weekday list.
func parseByDay(rec *model.Recurrence, v string) {
	if v == "" {
		return
	}
	if c := v[0]; c == '+' || c == '-' || (c >= '0' && c <= '9') {
		i := strings.IndexFunc(v, func(r rune) bool {
			return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
		})
		if i > 0 {
			rec.DayNumberForMonth = strings.TrimPrefix(v[:i], "+")
			rec.Days = []string{strings.ToUpper(v[i:])}
			return
		}
	}
	for _, d := range strings.Split(v, ",") {
		if d = strings.TrimSpace(d); d != "" {
			rec.Days = append(rec.Days, strings.ToUpper(d))
		}
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
