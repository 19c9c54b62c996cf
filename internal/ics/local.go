package ics

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ical "github.com/arran4/golang-ical"
	_ "modernc.org/sqlite"

	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
)

// MergedProductID identifies calendars written by MergeLocal.
const MergedProductID = "-//Galactica Voice//mxm.dk//"

var (
	// ErrNoLocalCalendars is returned when discovery finds no ICS files or
	// Evolution cache databases.
	ErrNoLocalCalendars = errors.New("ics: no local calendars found")
	// ErrNoEvents is returned when local sources were found but none of them
	// contained a VEVENT.
	ErrNoEvents = errors.New("ics: no events found in local sources")
)

// DefaultLocalRoots lists the directories desktop calendar apps keep their
// data in, relative to home.
func DefaultLocalRoots(home string) []string {
	rel := []string{
		// GNOME / Evolution
		".local/share/evolution/calendar",
		".cache/evolution/calendar",
		".var/app/org.gnome.Calendar/data/evolution/calendar",
		".var/app/org.gnome.Calendar/cache/evolution/calendar",
		// Thunderbird
		".thunderbird",
		".mozilla/thunderbird",
		// KDE
		".local/share/akonadi",
		".calendar",
		"Documents",
	}
	out := make([]string, 0, len(rel))
	for _, r := range rel {
		out = append(out, filepath.Join(home, r))
	}
	return out
}

// LocalSources is the result of scanning the local calendar directories.
type LocalSources struct {
	ICSFiles  []string
	Databases []string
}

// Empty reports whether nothing was found.
func (l LocalSources) Empty() bool {
	return len(l.ICSFiles) == 0 && len(l.Databases) == 0
}

// DiscoverLocal walks roots collecting *.ics files and Evolution cache.db
// files. Missing roots are skipped, as is anything below a trash directory.
func DiscoverLocal(roots []string) LocalSources {
	var out LocalSources
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		appLog.Debug("local calendar scan", "root", root)
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtree; keep walking the rest.
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if strings.Contains(filepath.ToSlash(path), "/trash") {
					return fs.SkipDir
				}
				return nil
			}
			switch {
			case strings.HasSuffix(d.Name(), ".ics"):
				out.ICSFiles = append(out.ICSFiles, path)
			case d.Name() == "cache.db":
				out.Databases = append(out.Databases, path)
			}
			return nil
		})
	}
	appLog.Info("local calendar scan done", "ics", len(out.ICSFiles), "databases", len(out.Databases))
	return out
}

// MergeLocal combines every VEVENT in src into a single calendar. It returns
// the calendar and the number of events merged. Unreadable files and rows are
// logged and skipped.
func MergeLocal(ctx context.Context, src LocalSources) (*ical.Calendar, int, error) {
	if src.Empty() {
		return nil, 0, ErrNoLocalCalendars
	}

	merged := ical.NewCalendar()
	merged.SetVersion("2.0")
	merged.SetProductId(MergedProductID)
	count := 0

	for _, path := range src.ICSFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			appLog.Error("local ics read failed", err, "path", path)
			continue
		}
		if !bytes.Contains(data, []byte("BEGIN:VCALENDAR")) {
			continue
		}
		n, err := appendEvents(merged, data)
		if err != nil {
			appLog.Error("local ics parse failed", err, "path", path)
			continue
		}
		count += n
	}

	for _, path := range src.Databases {
		rows, err := readEvolutionCache(ctx, path)
		if err != nil {
			appLog.Error("evolution cache read failed", err, "path", path)
			continue
		}
		for _, row := range rows {
			n, err := appendEvents(merged, wrapCalendar(row))
			if err != nil {
				appLog.Debug("evolution cache row skipped", "path", path, "err", err.Error())
				continue
			}
			count += n
		}
	}

	if count == 0 {
		return nil, 0, ErrNoEvents
	}
	return merged, count, nil
}

// SyncLocal discovers, merges and writes the local calendars to dest.
func SyncLocal(ctx context.Context, roots []string, dest string) (int, error) {
	cal, n, err := MergeLocal(ctx, DiscoverLocal(roots))
	if err != nil {
		return 0, err
	}
	if err := config.WriteFileAtomic(dest, []byte(cal.Serialize()), 0o600); err != nil {
		return 0, fmt.Errorf("ics: write merged calendar: %w", err)
	}
	appLog.Info("local calendars merged", "events", n, "dest", dest)
	return n, nil
}

func appendEvents(dst *ical.Calendar, data []byte) (int, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range cal.Events() {
		dst.Components = append(dst.Components, ev)
		n++
	}
	return n, nil
}

// wrapCalendar turns a bare VEVENT (as Evolution stores it) into a
// parseable calendar.
func wrapCalendar(obj string) []byte {
	if strings.Contains(obj, "BEGIN:VCALENDAR") {
		return []byte(obj)
	}
	return []byte("BEGIN:VCALENDAR\r\n" + strings.TrimSpace(obj) + "\r\nEND:VCALENDAR\r\n")
}

// readEvolutionCache returns the non-empty ECacheOBJ values of an Evolution
// cache.db. Databases without the ECacheObjects table yield no rows.
func readEvolutionCache(ctx context.Context, path string) ([]string, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var name string
	err = db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='ECacheObjects'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT ECacheOBJ FROM ECacheObjects")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s string
		switch v := raw.(type) {
		case []byte:
			s = string(v)
		case string:
			s = v
		}
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out, rows.Err()
}
