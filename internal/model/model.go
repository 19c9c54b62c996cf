package model

import "time"

// Occurrence represents a single concrete instance of a calendar event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	// AllDay events start at local midnight of their date; only the date
	// part of Start is meaningful when reporting them.
	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// StartsAfter reports whether the occurrence begins strictly after t. All-day
// occurrences are compared by their local midnight.
func (o Occurrence) StartsAfter(t time.Time) bool {
	return o.Start.After(t)
}
