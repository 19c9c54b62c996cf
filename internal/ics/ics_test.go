package ics

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(strings.TrimLeft(s, "\n"), "\n", "\r\n"))
}

const weeklyICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup@example
DTSTART:20250106T090000Z
DTEND:20250106T100000Z
SUMMARY:Standup
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20250113T090000Z
END:VEVENT
BEGIN:VEVENT
UID:standup@example
RECURRENCE-ID:20250120T090000Z
DTSTART:20250120T110000Z
DTEND:20250120T120000Z
SUMMARY:Standup moved
END:VEVENT
BEGIN:VEVENT
UID:trip@example
DTSTART;VALUE=DATE:20250110
DTEND;VALUE=DATE:20250112
SUMMARY:Lunch\, with team
END:VEVENT
BEGIN:VEVENT
UID:ping@example
DTSTART:20250111T150000Z
SUMMARY:Ping
END:VEVENT
BEGIN:VEVENT
DTSTART:20250111T160000Z
SUMMARY:No UID
END:VEVENT
END:VCALENDAR
`

func parseFixture(t *testing.T) []ParsedEvent {
	t.Helper()
	events, err := ParseICS(Source{ID: "test"}, crlf(weeklyICS))
	require.NoError(t, err)
	return events
}

func TestParseICS(t *testing.T) {
	events := parseFixture(t)
	require.Len(t, events, 4, "event without UID is skipped")

	byUID := map[string][]ParsedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = append(byUID[ev.UID], ev)
	}

	trip := byUID["trip@example"][0]
	assert.True(t, trip.AllDay)
	assert.Equal(t, "Lunch, with team", trip.Summary)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.Local), trip.Start)
	assert.Equal(t, time.Date(2025, 1, 12, 0, 0, 0, 0, time.Local), trip.End)

	ping := byUID["ping@example"][0]
	assert.False(t, ping.AllDay)
	assert.True(t, ping.End.Equal(ping.Start), "missing DTEND gives a zero-length event")

	require.Len(t, byUID["standup@example"], 2)
	for _, ev := range byUID["standup@example"] {
		if ev.IsOverride {
			require.NotNil(t, ev.Recurrence)
			assert.True(t, ev.Recurrence.Equal(time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)))
		} else {
			assert.Equal(t, "FREQ=WEEKLY;COUNT=4", ev.RawRRule)
			require.Len(t, ev.ExDates, 1)
		}
	}
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, []byte("  \n"))
	assert.ErrorIs(t, err, ErrEmptyCalendar)
}

func TestExpandRecurrenceWithExdateAndOverride(t *testing.T) {
	res, err := ExpandOccurrences(parseFixture(t), ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var standups []string
	for _, occ := range res.Occurrences {
		if occ.UID == "standup@example" {
			standups = append(standups, occ.Start.Format("01-02 15:04")+" "+occ.Summary)
		}
	}
	assert.Equal(t, []string{
		"01-06 09:00 Standup",
		"01-20 11:00 Standup moved",
		"01-27 09:00 Standup",
	}, standups)

	for i := 1; i < len(res.Occurrences); i++ {
		assert.False(t, res.Occurrences[i].Start.Before(res.Occurrences[i-1].Start), "sorted by start")
	}
}

func TestExpandIncludesOngoingAllDay(t *testing.T) {
	res, err := ExpandOccurrences(parseFixture(t), ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, 1, 11, 23, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	summaries := make([]string, 0)
	for _, occ := range res.Occurrences {
		summaries = append(summaries, occ.Summary)
	}
	assert.Equal(t, []string{"Lunch, with team", "Ping"}, summaries)

	trip := res.Occurrences[0]
	assert.True(t, trip.AllDay)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), trip.Start)
	assert.Equal(t, time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC), trip.End)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := ExpandOccurrences(nil, ExpandConfig{
		RangeStart: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestExpandCap(t *testing.T) {
	events := []ParsedEvent{{
		Source:   Source{ID: "s"},
		UID:      "daily",
		Start:    time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}}
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:               time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerEvent: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 10)
	assert.Equal(t, []string{"daily"}, res.TruncatedEvents)
}

func TestFetcherCacheBustAndConditionalGet(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "1700000000", r.URL.Query().Get("t"))
		assert.Equal(t, "abc", r.URL.Query().Get("token"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(weeklyICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	f.now = func() time.Time { return time.Unix(1700000000, 0) }
	src := Source{ID: "remote", URL: srv.URL + "/cal.ics?token=abc"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetcherFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	f.CacheBust = false
	src := Source{ID: "remote", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	_, err = NewFetcher(t.TempDir()).FetchOne(context.Background(), src)
	assert.Error(t, err, "no cache to fall back to")
}

func TestRequestURL(t *testing.T) {
	f := NewFetcher(t.TempDir())
	f.now = func() time.Time { return time.Unix(42, 0) }
	assert.Equal(t, "https://x/cal.ics?t=42", f.requestURL("https://x/cal.ics"))
	assert.Equal(t, "https://x/cal.ics?a=1&t=42", f.requestURL("https://x/cal.ics?a=1"))

	f.CacheBust = false
	assert.Equal(t, "https://x/cal.ics", f.requestURL("https://x/cal.ics"))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)",
		redactURL("https://calendar.example.com/private/abc123/basic.ics?x=1"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func makeEvolutionDB(t *testing.T, path string, rows ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE ECacheObjects (ECacheUID TEXT, ECacheOBJ TEXT)")
	require.NoError(t, err)
	for i, r := range rows {
		_, err = db.Exec("INSERT INTO ECacheObjects VALUES (?, ?)", i, r)
		require.NoError(t, err)
	}
}

func TestDiscoverAndMergeLocal(t *testing.T) {
	home := t.TempDir()
	roots := DefaultLocalRoots(home)

	writeTestFile(t, filepath.Join(home, "Documents", "work.ics"), crlf(weeklyICS))
	writeTestFile(t, filepath.Join(home, "Documents", "notes.ics"), []byte("not a calendar"))
	writeTestFile(t, filepath.Join(home, ".calendar", "trash", "old.ics"), crlf(weeklyICS))

	makeEvolutionDB(t, filepath.Join(home, ".cache", "evolution", "calendar", "system", "cache.db"),
		"BEGIN:VEVENT\r\nUID:evo-1\r\nDTSTART:20250115T100000Z\r\nDTEND:20250115T110000Z\r\nSUMMARY:Dentist\r\nEND:VEVENT",
		"",
	)

	// A cache.db from another app without the Evolution table.
	other := filepath.Join(home, ".thunderbird", "profile", "cache.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(other), 0o700))
	db, err := sql.Open("sqlite", other)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE things (x TEXT)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	found := DiscoverLocal(roots)
	assert.Len(t, found.ICSFiles, 2, "trash is skipped")
	assert.Len(t, found.Databases, 2)

	dest := filepath.Join(t.TempDir(), "calendar.ics")
	n, err := SyncLocal(context.Background(), roots, dest)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "every VEVENT is merged, including ones the parser later skips")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), MergedProductID)

	events, err := ParseICS(Source{ID: "merged"}, data)
	require.NoError(t, err)
	uids := map[string]bool{}
	for _, ev := range events {
		uids[ev.UID] = true
	}
	assert.True(t, uids["evo-1"])
	assert.True(t, uids["trip@example"])
}

func TestMergeLocalErrors(t *testing.T) {
	_, _, err := MergeLocal(context.Background(), LocalSources{})
	assert.ErrorIs(t, err, ErrNoLocalCalendars)

	empty := filepath.Join(t.TempDir(), "empty.ics")
	writeTestFile(t, empty, []byte("just text"))
	_, _, err = MergeLocal(context.Background(), LocalSources{ICSFiles: []string{empty}})
	assert.ErrorIs(t, err, ErrNoEvents)
}

func TestClassify(t *testing.T) {
	cases := map[string]SourceKind{
		"":                          KindNone,
		"LOCAL":                     KindLocal,
		"file:///home/u/cal.ics":    KindFile,
		"/home/u/cal.ics":           KindFile,
		"https://example.com/c.ics": KindRemote,
	}
	for in, want := range cases {
		got, _ := Classify(in)
		assert.Equal(t, want, got, in)
	}
	_, path := Classify("file:///home/u/cal.ics")
	assert.Equal(t, "/home/u/cal.ics", path)
}

func TestSyncerFileAndRemote(t *testing.T) {
	dir := t.TempDir()
	srcFile := filepath.Join(dir, "export.ics")
	writeTestFile(t, srcFile, crlf(weeklyICS))

	var kinds []SourceKind
	s := &Syncer{
		CacheFile: filepath.Join(dir, "cache", "calendar.ics"),
		Fetcher:   NewFetcher(filepath.Join(dir, "http")),
		OnResult:  func(k SourceKind, _ error) { kinds = append(kinds, k) },
	}

	require.NoError(t, s.Sync(context.Background(), "file://"+srcFile))
	events, err := Load(s.CacheFile)
	require.NoError(t, err)
	assert.Len(t, events, 4)

	assert.Error(t, s.Sync(context.Background(), filepath.Join(dir, "missing.ics")))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()
	require.NoError(t, s.Sync(context.Background(), srv.URL+"/cal.ics"))
	events, err = Load(s.CacheFile)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, s.Sync(context.Background(), ""))
	assert.Equal(t, []SourceKind{KindFile, KindFile, KindRemote}, kinds)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "none.ics"))
	assert.ErrorIs(t, err, ErrNoCalendar)

	bad := filepath.Join(dir, "bad.ics")
	writeTestFile(t, bad, nil)
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrCorruptCalendar)
}
