package ics

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "visitical/internal/log"
	"visitical/internal/model"
)

const (
	defaultMaxOccurrences = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone occurrences are converted to.
	// If nil, the visit's own timezone is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences is a safety cap for open-ended rules. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int

	// Zones resolves the visit's timezone. If nil, SystemZones is used.
	Zones ZoneResolver
}

// ExpandResult wraps the expanded occurrences and whether the cap was hit.
type ExpandResult struct {
	Occurrences []model.Occurrence
	Truncated   bool
}

// Occurrences expands a visit into concrete occurrences within the window.
// A visit without recurrence yields at most one occurrence. All-day visits
// span whole days in the visit's timezone.
func Occurrences(req model.VisitRequest, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Zones == nil {
		cfg.Zones = SystemZones
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	arrival, err := parseClock("ArrivalTime", req.ArrivalTime)
	if err != nil {
		return result, err
	}
	departure, err := parseClock("DepartureTime", req.DepartureTime)
	if err != nil {
		return result, err
	}
	tz := strings.TrimSpace(req.Timezone)
	loc, err := cfg.Zones.Resolve(tz)
	if err != nil {
		return result, formatError("Timezone", "unknown timezone %q", tz)
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = loc
	}

	start := arrival.on(req.ArrivalDate, loc)
	end := departure.on(req.DepartureDate, loc)
	if req.IsAllDayEvent {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	}

	// Single visit.
	if req.Recurrence == nil {
		if timeRangesOverlap(start, end, cfg.RangeStart, cfg.RangeEnd) {
			result.Occurrences = append(result.Occurrences, makeOccurrence(req, start, end, cfg.DisplayLocation))
		}
		return result, nil
	}

	rule, err := buildRRule(req.Recurrence, start)
	if err != nil {
		return result, err
	}
	r, err := rrule.StrToRRule(rule.Value())
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "visit_id", req.VisitID, "rrule", rule.Value())
		return result, formatError("Recurrence", "produces an invalid rule: %v", err)
	}

	// Ensure Dtstart is set to the visit's first arrival.
	r.DTStart(start)

	occTimes := r.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)
	if len(occTimes) > cfg.MaxOccurrences {
		occTimes = occTimes[:cfg.MaxOccurrences]
		result.Truncated = true
		appLog.Error("expand: truncated occurrences due to cap",
			errors.New("max occurrences reached"),
			"visit_id", req.VisitID,
			"cap", cfg.MaxOccurrences,
		)
	}

	// Preserve original duration.
	dur := end.Sub(start)
	result.Occurrences = make([]model.Occurrence, 0, len(occTimes))
	for _, occStart := range occTimes {
		result.Occurrences = append(result.Occurrences, makeOccurrence(req, occStart, occStart.Add(dur), cfg.DisplayLocation))
	}
	return result, nil
}

// makeOccurrence converts one start/end pair into a model.Occurrence
// normalized into displayLoc.
func makeOccurrence(req model.VisitRequest, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	return model.Occurrence{
		VisitID: req.VisitID,
		// InstanceKey: UTC start in RFC3339 as a stable per-instance key.
		InstanceKey: start.UTC().Format(time.RFC3339),
		Summary:     req.Summary,
		Start:       start.In(displayLoc),
		End:         end.In(displayLoc),
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
