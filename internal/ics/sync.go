package ics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
)

// SourceKind classifies the calendar_url setting.
type SourceKind string

const (
	KindNone   SourceKind = "none"
	KindLocal  SourceKind = "local"
	KindFile   SourceKind = "file"
	KindRemote SourceKind = "remote"
)

// ErrNoCalendar is returned by Load when the calendar cache file is missing.
var ErrNoCalendar = errors.New("ics: calendar file not found")

// ErrCorruptCalendar is returned by Load when the cache file cannot be parsed.
var ErrCorruptCalendar = errors.New("ics: calendar file is corrupted")

// Classify returns the kind of source described by a calendar_url setting
// and, for files, the path it points at.
func Classify(calendarURL string) (SourceKind, string) {
	u := strings.TrimSpace(calendarURL)
	switch {
	case u == "":
		return KindNone, ""
	case strings.EqualFold(u, "local"):
		return KindLocal, ""
	case strings.HasPrefix(u, "file://"):
		return KindFile, strings.TrimPrefix(u, "file://")
	case strings.HasPrefix(u, "/"):
		return KindFile, u
	default:
		return KindRemote, u
	}
}

// Syncer refreshes the calendar cache file from the configured source.
type Syncer struct {
	// CacheFile is the ICS file the agent reads.
	CacheFile string
	// LocalRoots are scanned for the "local" source.
	LocalRoots []string
	Fetcher    *Fetcher

	// OnResult, if set, is called after each Sync with the source kind and
	// the error (nil on success).
	OnResult func(kind SourceKind, err error)
}

// NewSyncer builds a Syncer from the application config.
func NewSyncer(cfg *config.Config) *Syncer {
	home, err := os.UserHomeDir()
	if err != nil {
		home = cfg.Workspace
	}
	f := NewFetcher(cfg.Calendar.HTTPCacheDir)
	f.CacheBust = !cfg.Calendar.DisableCacheBust
	return &Syncer{
		CacheFile:  cfg.Calendar.CacheFile,
		LocalRoots: DefaultLocalRoots(home),
		Fetcher:    f,
	}
}

// Sync updates CacheFile from calendarURL. An empty URL is not an error; the
// existing cache file is left as is. Failures leave the previous cache file
// untouched so the agent can still answer from stale data.
func (s *Syncer) Sync(ctx context.Context, calendarURL string) error {
	kind, target := Classify(calendarURL)
	start := time.Now()

	var err error
	switch kind {
	case KindNone:
		appLog.Debug("calendar sync skipped; no calendar_url")
		return nil
	case KindLocal:
		_, err = SyncLocal(ctx, s.LocalRoots, s.CacheFile)
	case KindFile:
		err = s.copyFile(target)
	case KindRemote:
		err = s.download(ctx, target)
	}

	if s.OnResult != nil {
		s.OnResult(kind, err)
	}
	if err != nil {
		appLog.Error("calendar sync failed", err, "kind", string(kind))
		return err
	}
	appLog.Info("calendar sync done", "kind", string(kind), "elapsed", time.Since(start).String())
	return nil
}

func (s *Syncer) copyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ics: read calendar file: %w", err)
	}
	return config.WriteFileAtomic(s.CacheFile, data, 0o600)
}

func (s *Syncer) download(ctx context.Context, url string) error {
	res, err := s.Fetcher.FetchOne(ctx, Source{ID: string(KindRemote), URL: url})
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.CacheFile, res.Body, 0o600)
}

// Load parses the calendar cache file.
func Load(path string) ([]ParsedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCalendar
		}
		return nil, err
	}
	events, err := ParseICS(Source{ID: filepath.Base(path), URL: path}, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCalendar, err)
	}
	return events, nil
}
