// Package agenda turns calendar occurrences into short spoken reports.
package agenda

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lcarsvoice/internal/ics"
	"lcarsvoice/internal/model"
)

// Messages spoken when the calendar cannot be read or a request is incomplete.
const (
	MsgNoCalendar      = "I cannot find the calendar file."
	MsgCorruptCalendar = "The calendar file is corrupted."
	MsgNeedDate        = "Please provide a date in YYYY-MM-DD format."
	MsgBadDate         = "I didn't understand that date format."
	MsgNeedQuery       = "What should I search for?"
)

const (
	labelLayout = "Monday, January 02"
	timeLayout  = "3:04 PM"

	weekDays   = 7
	nextDays   = 30
	searchDays = 90
	maxMatches = 3
)

// Modes lists the accepted mode names besides the weekday names.
var Modes = []string{"today", "tomorrow", "week", "next", "search", "date", "report_today"}

// Loader returns the parsed events of the calendar cache.
type Loader func() ([]ics.ParsedEvent, error)

// Agent answers calendar questions.
type Agent struct {
	Load     Loader
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// New returns an Agent reading the calendar file at path.
func New(path string, loc *time.Location) *Agent {
	return &Agent{
		Load:     func() ([]ics.ParsedEvent, error) { return ics.Load(path) },
		Location: loc,
		Now:      time.Now,
	}
}

// IsReportMode reports whether mode prints instead of speaking.
func IsReportMode(mode string) bool {
	return strings.EqualFold(mode, "report_today")
}

// Report answers mode with args. The returned text is always speakable;
// err is non-nil when the calendar could not be read, in which case text
// describes the problem.
func (a *Agent) Report(mode string, args []string) (string, error) {
	now := a.now()
	today := midnight(now)
	mode = strings.ToLower(strings.TrimSpace(mode))

	if wd, ok := parseWeekday(mode); ok {
		ahead := (int(wd) - int(today.Weekday()) + 7) % 7
		day := today.AddDate(0, 0, ahead)
		return a.daily(day, day.Format(labelLayout))
	}

	switch mode {
	case "tomorrow":
		return a.daily(today.AddDate(0, 0, 1), "Tomorrow")
	case "week":
		return a.week()
	case "next":
		return a.next()
	case "search":
		if len(args) == 0 || strings.TrimSpace(strings.Join(args, " ")) == "" {
			return MsgNeedQuery, nil
		}
		return a.search(strings.Join(args, " "))
	case "date":
		if len(args) == 0 {
			return MsgNeedDate, nil
		}
		d, err := time.ParseInLocation("2006-1-2", strings.TrimSpace(args[0]), a.loc())
		if err != nil {
			return MsgBadDate, nil
		}
		return a.daily(d, d.Format(labelLayout))
	default:
		// "today", "report_today" and anything unrecognised.
		return a.daily(today, "Today")
	}
}

func (a *Agent) now() time.Time {
	if a.Now == nil {
		return time.Now().In(a.loc())
	}
	return a.Now().In(a.loc())
}

func (a *Agent) loc() *time.Location {
	if a.Location == nil {
		return time.Local
	}
	return a.Location
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func parseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, true
		}
	}
	return 0, false
}

// occurrences loads the calendar and expands it over [start, end).
func (a *Agent) occurrences(start, end time.Time) ([]model.Occurrence, string, error) {
	events, err := a.Load()
	if err != nil {
		if errors.Is(err, ics.ErrNoCalendar) {
			return nil, MsgNoCalendar, err
		}
		return nil, MsgCorruptCalendar, err
	}
	res, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		DisplayLocation: a.loc(),
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, MsgCorruptCalendar, err
	}
	return res.Occurrences, "", nil
}

func plural(n int, word string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, word)
	}
	return fmt.Sprintf("%d %s", n, word)
}

func summary(o model.Occurrence) string {
	if strings.TrimSpace(o.Summary) == "" {
		return "Untitled event"
	}
	return o.Summary
}

// daily reports one day. For today the window starts now, so finished
// events are left out.
func (a *Agent) daily(day time.Time, label string) (string, error) {
	start := day
	if label == "Today" {
		start = a.now()
	}
	occs, msg, err := a.occurrences(start, day.AddDate(0, 0, 1))
	if err != nil {
		return msg, err
	}
	if len(occs) == 0 {
		return fmt.Sprintf("You have no events scheduled for %s.", label), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %s scheduled for %s. ", plural(len(occs), "event"), label)
	for i, o := range occs {
		if len(occs) > 1 && i == len(occs)-1 {
			b.WriteString("and ")
		}
		if o.AllDay {
			fmt.Fprintf(&b, "All day: %s. ", summary(o))
		} else {
			fmt.Fprintf(&b, "At %s, %s. ", o.Start.Format(timeLayout), summary(o))
		}
	}
	return b.String(), nil
}

func (a *Agent) week() (string, error) {
	now := a.now()
	occs, msg, err := a.occurrences(now, now.AddDate(0, 0, weekDays))
	if err != nil {
		return msg, err
	}
	if len(occs) == 0 {
		return "Your schedule looks completely free for the next 7 days.", nil
	}

	order := make([]string, 0, weekDays)
	counts := make(map[string]int)
	for _, o := range occs {
		day := o.Start.Weekday().String()
		if _, seen := counts[day]; !seen {
			order = append(order, day)
		}
		counts[day]++
	}

	var b strings.Builder
	b.WriteString("Here is your week. ")
	for _, day := range order {
		fmt.Fprintf(&b, "%s has %s. ", day, plural(counts[day], "event"))
	}
	b.WriteString("Would you like details on a specific day?")
	return b.String(), nil
}

func (a *Agent) next() (string, error) {
	now := a.now()
	occs, msg, err := a.occurrences(now, now.AddDate(0, 0, nextDays))
	if err != nil {
		return msg, err
	}

	for _, o := range occs {
		if !o.StartsAfter(now) {
			continue
		}
		if o.AllDay {
			return fmt.Sprintf("Next up is an all-day event: %s, tomorrow.", summary(o)), nil
		}
		return fmt.Sprintf("Next up is %s, %s.", summary(o), until(o.Start.Sub(now))), nil
	}
	return "You have no upcoming events in the next 30 days.", nil
}

// until phrases a positive duration the way the next-event report reads it.
func until(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	rem := d - time.Duration(days)*24*time.Hour
	hours := int(rem / time.Hour)
	minutes := int(rem/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("in %d days", days)
	case hours > 0:
		return fmt.Sprintf("in %d hours and %d minutes", hours, minutes)
	default:
		return fmt.Sprintf("in %d minutes", minutes)
	}
}

func (a *Agent) search(query string) (string, error) {
	now := a.now()
	occs, msg, err := a.occurrences(now, now.AddDate(0, 0, searchDays))
	if err != nil {
		return msg, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	matches := make([]model.Occurrence, 0)
	for _, o := range occs {
		if strings.Contains(strings.ToLower(o.Summary), q) {
			matches = append(matches, o)
		}
	}
	if len(matches) == 0 {
		return fmt.Sprintf("I couldn't find any events matching '%s'.", q), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d matches. ", len(matches))
	for i, o := range matches {
		if i == maxMatches {
			break
		}
		if o.AllDay {
			fmt.Fprintf(&b, "%s on %s. ", summary(o), o.Start.Format(labelLayout))
		} else {
			fmt.Fprintf(&b, "%s on %s at %s. ", summary(o), o.Start.Format(labelLayout), o.Start.Format(timeLayout))
		}
	}
	return b.String(), nil
}
