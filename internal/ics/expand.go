package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd).
	// An occurrence is included when it overlaps the window, so an event that
	// started before RangeStart but is still running is returned.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	// Occurrences are sorted by start time, then summary.
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences takes a list of ParsedEvent (typically for one or more ICS
// sources) and expands them into concrete occurrences within the given time
// range. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides
//   - All-day semantics
//
// All resulting occurrences are converted into the configured display
// timezone (ExpandConfig.DisplayLocation).
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID. UIDs are only unique per
	// source, so the key includes the source ID.
	type key struct{ source, uid string }
	order := make([]key, 0)
	baseByUID := make(map[key][]ParsedEvent)
	overridesByUID := make(map[key][]ParsedEvent)

	for _, ev := range events {
		k := key{ev.Source.ID, ev.UID}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[k] = append(overridesByUID[k], ev)
			continue
		}
		if _, seen := baseByUID[k]; !seen {
			order = append(order, k)
		}
		baseByUID[k] = append(baseByUID[k], ev)
	}

	allOccurrences := make([]model.Occurrence, 0)

	for _, k := range order {
		ov := overridesByUID[k]
		truncated := false

		for _, ev := range baseByUID[k] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			allOccurrences = append(allOccurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, k.uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", k.uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	sort.SliceStable(allOccurrences, func(i, j int) bool {
		a, b := allOccurrences[i], allOccurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Summary < b.Summary
	})

	result.Occurrences = allOccurrences
	return result, nil
}

// expandEvent expands a single ParsedEvent (base event) with its possible
// overrides within the given configuration, returning occurrences and whether
// the cap was hit.
func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	start, end := ev.Start, ev.End

	// Apply any override whose RECURRENCE-ID matches this start.
	if o, ok := findOverrideForStart(overrides, start); ok {
		start, end = o.Start, o.End
		ev = o
	}

	occ := makeOccurrence(ev, start, end, cfg.DisplayLocation)
	if !overlaps(occ.Start, occ.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{occ}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	// Build a set so we can apply EXDATE.
	var set rrule.Set
	set.RRule(r)

	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)

	// Widen the lower bound by the event duration so instances that began
	// before RangeStart but are still running are found.
	loc := ev.Start.Location()
	rangeStart := cfg.RangeStart.Add(-dur).In(loc)
	rangeEnd := cfg.RangeEnd.In(loc)

	occTimes := set.Between(rangeStart, rangeEnd, true)

	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			// Keep whole calendar days across DST changes.
			occEnd = occStart.AddDate(0, 0, daysBetween(ev.Start, ev.End))
		}

		baseStart, baseEnd, baseEv := occStart, occEnd, ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			baseStart, baseEnd, baseEv = o.Start, o.End, o
		}

		occ := makeOccurrence(baseEv, baseStart, baseEnd, cfg.DisplayLocation)
		if !overlaps(occ.Start, occ.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, occ)
	}

	return out, hitCap
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given instance start with exact time equality.
func findOverrideForStart(overrides []ParsedEvent, instanceStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(instanceStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence converts a (possibly overridden) ParsedEvent + specific
// start/end time into a model.Occurrence normalized into displayLoc.
// All-day occurrences keep their calendar date and move to midnight in
// displayLoc rather than being shifted by the zone offset.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	var startLocal, endLocal time.Time
	if ev.AllDay {
		days := daysBetween(start, end)
		if days < 1 {
			days = 1
		}
		startLocal = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, displayLoc)
		endLocal = startLocal.AddDate(0, 0, days)
	} else {
		startLocal = start.In(displayLoc)
		endLocal = end.In(displayLoc)
	}

	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd).
// Zero-length events count when they start inside the window.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func daysBetween(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}
