package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "lcarsvoice/internal/log"
)

// ErrEmptyCalendar is returned when an ICS payload has no bytes at all.
var ErrEmptyCalendar = errors.New("empty ICS body")

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion will operate on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	Start   time.Time
	End     time.Time
	AllDay  bool
	StartTZ string

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format and
//     anchors them at local midnight of their calendar date.
//   - It records RRULE/EXDATE/RECURRENCE-ID but does not expand recurrences;
//     expansion is done in expand.go.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyCalendar
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID)
		return nil, err
	}

	events := make([]ParsedEvent, 0)

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	// SEQUENCE (optional, used for overrides/versioning)
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil {
		return out, errors.New("missing DTSTART")
	}

	// Detect all-day: VALUE=DATE or no 'T' in the value.
	allDay := !strings.Contains(dtStartProp.Value, "T")
	if params := dtStartProp.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			allDay = true
		}
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			out.StartTZ = tzs[0]
		}
	}
	out.AllDay = allDay

	if allDay {
		start, err := parseICSTime(dtStartProp.Value)
		if err != nil {
			return out, err
		}
		out.Start = start
		out.End = start.AddDate(0, 0, 1)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if end, err := parseICSTime(p.Value); err == nil && end.After(start) {
				out.End = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		out.Start = start
		// A missing DTEND (and DURATION) makes a zero-length event.
		end, err := ve.GetEndAt()
		if err != nil || end.Before(start) {
			end = start
		}
		out.End = end
	}

	// RRULE (we only keep raw string here; expansion is in expand.go).
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE (can appear multiple times, each possibly comma-separated)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := out.Start.Location()
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				loc = l
			}
		}
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTimeIn(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		loc := out.Start.Location()
		if tzs, ok := ridProp.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				loc = l
			}
		}
		if t, err := parseICSTimeIn(ridProp.Value, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Floating and date-only values are interpreted in time.Local.
func parseICSTime(v string) (time.Time, error) {
	return parseICSTimeIn(v, time.Local)
}

func parseICSTimeIn(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}

var textUnescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, " ", `\N`, " ", `\\`, `\`)

// unescapeText undoes RFC 5545 TEXT escaping so summaries read naturally
// when spoken.
func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
